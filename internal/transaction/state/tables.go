package state

func same(status string) (External, External) {
	return External{Status: status}, External{Status: status}
}

func plain(name, label, status string, finished bool) State {
	v1, v2 := same(status)
	return State{Name: name, Status: label, Finished: finished, V1: v1, V2: v2}
}

var paymentStates = []State{
	plain("CREATED", "Created", "created", false),
	plain("STARTED", "Started", "started", false),
	plain("SUBMITTED", "Submitted", "submitted", false),
	plain("CAPTURABLE", "Capturable", "capturable", false),
	plain("SUCCESS", "Success", "success", true),
	{
		Name: "FAILED_REJECTED", Status: "Declined", Finished: true, CanRetry: true,
		V1: External{Status: "failed", Code: "P0010", Message: "Payment method rejected"},
		V2: External{Status: "declined", Code: "P0010", Message: "The payment was declined by the card issuer"},
	},
	{
		Name: "FAILED_EXPIRED", Status: "Timed out", Finished: true, CanRetry: true,
		V1: External{Status: "failed", Code: "P0020", Message: "Payment expired"},
		V2: External{Status: "timedout", Code: "P0020", Message: "The payment timed out"},
	},
	{
		Name: "FAILED_CANCELLED", Status: "Cancelled by user", Finished: true, CanRetry: true,
		V1: External{Status: "failed", Code: "P0030", Message: "Payment was cancelled by the user"},
		V2: External{Status: "cancelled", Code: "P0030", Message: "The payment was cancelled by the user"},
	},
	{
		Name: "CANCELLED", Status: "Cancelled", Finished: true,
		V1: External{Status: "cancelled", Code: "P0040", Message: "Payment was cancelled by the service"},
		V2: External{Status: "cancelled", Code: "P0040", Message: "The payment was cancelled by the service"},
	},
	{
		Name: "ERROR", Status: "Error", Finished: true,
		V1: External{Status: "error", Code: "P0050", Message: "Payment provider returned an error"},
		V2: External{Status: "error", Code: "P0050", Message: "There was an error processing the payment"},
	},
	{
		Name: "ERROR_GATEWAY", Status: "Gateway error", Finished: true, CanRetry: true,
		V1: External{Status: "error", Code: "P0050", Message: "Payment provider returned an error"},
		V2: External{Status: "error", Code: "P0050", Message: "There was an error processing the payment"},
	},
}

var paymentEvents = map[string]string{
	"PAYMENT_CREATED":                                     "CREATED",
	"PAYMENT_STARTED":                                     "STARTED",
	"PAYMENT_DETAILS_ENTERED":                             "SUBMITTED",
	"AUTHORISATION_SUCCEEDED":                             "SUBMITTED",
	"USER_APPROVED_FOR_CAPTURE_AWAITING_SERVICE_APPROVAL": "CAPTURABLE",
	"CAPTURE_SUBMITTED":                                   "SUCCESS",
	"CAPTURE_CONFIRMED":                                   "SUCCESS",
	"USER_APPROVED_FOR_CAPTURE":                           "SUCCESS",
	"SERVICE_APPROVED_FOR_CAPTURE":                        "SUCCESS",
	"AUTHORISATION_REJECTED":                              "FAILED_REJECTED",
	"AUTHORISATION_CANCELLED":                             "FAILED_REJECTED",
	"PAYMENT_EXPIRED":                                     "FAILED_EXPIRED",
	"CANCELLED_BY_EXPIRATION":                             "FAILED_EXPIRED",
	"CANCELLED_BY_USER":                                   "FAILED_CANCELLED",
	"CANCELLED_BY_EXTERNAL_SERVICE":                       "CANCELLED",
	"CAPTURE_ERRORED":                                     "ERROR",
	"CAPTURE_ABANDONED_AFTER_TOO_MANY_RETRIES":            "ERROR",
	"GATEWAY_ERROR_DURING_AUTHORISATION":                  "ERROR_GATEWAY",
	"GATEWAY_TIMEOUT_DURING_AUTHORISATION":                "ERROR_GATEWAY",
	"UNEXPECTED_GATEWAY_ERROR_DURING_AUTHORISATION":       "ERROR_GATEWAY",
}

var refundStates = []State{
	plain("CREATED", "Created", "submitted", false),
	plain("SUBMITTED", "Submitted", "submitted", false),
	plain("SUCCESS", "Success", "success", true),
	plain("ERROR", "Error", "error", true),
}

var refundEvents = map[string]string{
	"REFUND_CREATED_BY_SERVICE": "CREATED",
	"REFUND_CREATED_BY_USER":    "CREATED",
	"REFUND_SUBMITTED":          "SUBMITTED",
	"REFUND_SUCCEEDED":          "SUCCESS",
	"REFUND_ERROR":              "ERROR",
}

var disputeStates = []State{
	plain("NEEDS_RESPONSE", "Needs response", "needs_response", false),
	plain("UNDER_REVIEW", "Under review", "under_review", false),
	plain("WON", "Won", "won", true),
	plain("LOST", "Lost", "lost", true),
}

var disputeEvents = map[string]string{
	"DISPUTE_CREATED":            "NEEDS_RESPONSE",
	"DISPUTE_EVIDENCE_SUBMITTED": "UNDER_REVIEW",
	"DISPUTE_WON":                "WON",
	"DISPUTE_LOST":               "LOST",
}

var payoutStates = []State{
	plain("IN_TRANSIT", "In transit", "intransit", false),
	plain("PAID_OUT", "Paid out", "paidout", true),
	plain("FAILED", "Failed", "failed", true),
}

var payoutEvents = map[string]string{
	"PAYOUT_CREATED": "IN_TRANSIT",
	"PAYOUT_PAID":    "PAID_OUT",
	"PAYOUT_FAILED":  "FAILED",
}
