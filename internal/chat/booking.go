package chat

import "strings"

var interestSignals = []string{
	"interested", "how much", "pricing", "cost", "get started",
	"demo", "call", "talk", "discuss", "learn more", "tell me more",
	"next step", "how do we", "sign up", "try it",
}

// Greetings and who-are-you questions. "hi " keeps its trailing space so
// words like "this" do not match.
var basicQueries = []string{"hello", "hi ", "hey", "what do you", "who are you", "what is resultant"}

// ShouldOfferBooking decides whether the reply should carry the booking link.
// Interest in the visitor's own message wins, a bare greeting loses, and
// otherwise a reply citing a case study or a dollar figure earns the offer.
func ShouldOfferBooking(message, reply string) bool {
	msg := strings.ToLower(message)
	if containsAny(msg, interestSignals) {
		return true
	}
	if containsAny(msg, basicQueries) {
		return false
	}
	return strings.Contains(strings.ToLower(reply), "case study") || strings.Contains(reply, "$")
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
