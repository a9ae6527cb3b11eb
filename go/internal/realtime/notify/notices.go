package notify

// Notices raised by the realtime layer.
var (
	ConnectionLost = Notice{
		Kind:     KindDestructive,
		TitleKey: "connection.lost.title",
		BodyKey:  "connection.lost.body",
		Title:    "Connection lost",
		Body:     "Trying to reconnect...",
	}
	ConnectionRestored = Notice{
		Kind:     KindDefault,
		TitleKey: "connection.restored.title",
		BodyKey:  "connection.restored.body",
		Title:    "Connection restored",
		Body:     "You are back in the game.",
	}
	SubscriptionFailed = Notice{
		Kind:     KindDestructive,
		TitleKey: "subscription.failed.title",
		BodyKey:  "subscription.failed.body",
		Title:    "Live updates unavailable",
		Body:     "We could not subscribe to game updates. Retrying...",
	}
	AnswerDelayed = Notice{
		Kind:     KindWarning,
		TitleKey: "answer.delayed.title",
		BodyKey:  "answer.delayed.body",
		Title:    "Unstable connection",
		Body:     "Your answer will be sent once the connection is back.",
	}
	AnswerFailed = Notice{
		Kind:     KindDestructive,
		TitleKey: "answer.failed.title",
		BodyKey:  "answer.failed.body",
		Title:    "Answer not sent",
		Body:     "Something went wrong sending your answer.",
	}
)
