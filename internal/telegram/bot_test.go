package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandMessage(text string, cmdLen int, from *tgbotapi.User) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      from,
		Chat:      &tgbotapi.Chat{ID: 555},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func TestCommandFromMessage(t *testing.T) {
	t.Parallel()

	from := &tgbotapi.User{ID: 42, FirstName: "Ada", LastName: "<L>"}
	cmd, ok := commandFromMessage(commandMessage("/ClockIn@grillo_bot  U1   roomB", 19, from))
	require.True(t, ok)
	assert.Equal(t, int64(42), cmd.TelegramID)
	assert.Equal(t, "clockin", cmd.Name)
	assert.Equal(t, []string{"U1", "roomB"}, cmd.Args)
	assert.Equal(t, `<a href="tg://user?id=42">Ada &lt;L&gt;</a>`, cmd.Mention)

	cmd, ok = commandFromMessage(commandMessage("/status", 7, from))
	require.True(t, ok)
	assert.Empty(t, cmd.Args)
}

func TestCommandFromMessageSkipsNonCommands(t *testing.T) {
	t.Parallel()

	from := &tgbotapi.User{ID: 1, UserName: "anon"}
	_, ok := commandFromMessage(nil)
	assert.False(t, ok)

	_, ok = commandFromMessage(&tgbotapi.Message{From: from, Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"})
	assert.False(t, ok)

	_, ok = commandFromMessage(commandMessage("/status", 7, nil))
	assert.False(t, ok)

	assert.Equal(t, `<a href="tg://user?id=1">anon</a>`, mention(from))
}
