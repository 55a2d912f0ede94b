package gateway

const defaultDeclineMessage = "Your payment could not be processed. Please try again or use a different payment method."

var declineMessages = map[string]string{
	"card_declined":           "Your card was declined. Please use a different card or contact your bank.",
	"expired_card":            "Your card has expired. Please update your payment method.",
	"incorrect_cvc":           "The security code is incorrect. Please check the card details and try again.",
	"processing_error":        "An error occurred while processing your card. Please try again in a few minutes.",
	"insufficient_funds":      "Your card has insufficient funds. Please use a different payment method.",
	"lost_card":               "This card was reported lost. Please use a different card.",
	"stolen_card":             "This card was reported stolen. Please use a different card.",
	"authentication_required": "Your bank requires additional authentication. Please confirm the payment or use a different card.",
}

// DeclineMessage returns a customer-facing explanation of a processor decline code.
func DeclineMessage(code string) string {
	if msg, ok := declineMessages[code]; ok {
		return msg
	}
	return defaultDeclineMessage
}
