package message

import (
	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/model"
)

// SelfLabel names the account user in rendered titles.
const SelfLabel = "Me"

// Title renders the one-line preview of m. Own messages are prefixed with
// SelfLabel, others with the author name in group chats only. author may be
// nil when the author is unknown.
func Title(acc account.Account, c model.Chat, m model.ChatMessage, author *model.User) string {
	switch {
	case acc.IsAccountUser(m.Author):
		return SelfLabel + ": " + m.Body
	case !c.Private && author != nil:
		return author.DisplayName() + ": " + m.Body
	case !c.Private:
		return m.Author.AccountEntityID + ": " + m.Body
	default:
		return m.Body
	}
}
