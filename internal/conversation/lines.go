package conversation

// Fixed lines spoken by the clerk.
const (
	// SessionWelcome is the content of the session_start event.
	SessionWelcome = "Welcome to the Argument Clinic! Please start by saying something."

	// EntryGreeting is spoken when a session leaves Entry.
	EntryGreeting = "Good morning! Welcome to the Argument Clinic. How may I help you today?"

	// PaymentThanks acknowledges a payment before the argument resumes.
	PaymentThanks = "Ah, thank you! Right, where were we? Oh yes, you were wrong about everything!"
)

var refusalLines = [...]string{
	"I'm sorry, but I can't continue without payment. That's five pounds for the argument.",
	"No, no, no! Five pounds first, then we can argue!",
	"I'm afraid the argument stops here until you pay the five pounds.",
	"Payment first! Five pounds, please. Then we can resume our disagreement.",
	"I won't argue with you until you've paid! Five pounds!",
}

// RefusalLine returns the payment demand for the n-th user input. The lines
// rotate so consecutive refusals differ.
func RefusalLine(n int) string {
	if n < 0 {
		n = -n
	}
	return refusalLines[n%len(refusalLines)]
}
