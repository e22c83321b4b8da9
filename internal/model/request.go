package model

import "time"

// RequestType is the kind of change a requester asks for.
type RequestType string

// Request types.
const (
	RequestExtendBorrow  RequestType = "extend_borrow"
	RequestReportLost    RequestType = "report_lost"
	RequestReportDamage  RequestType = "report_damage"
	RequestEarlyReturn   RequestType = "early_return"
	RequestChangeDueDate RequestType = "change_due_date"
	RequestOther         RequestType = "other"
)

// RequestTypes lists every request type in display order.
var RequestTypes = []RequestType{
	RequestExtendBorrow,
	RequestReportLost,
	RequestReportDamage,
	RequestEarlyReturn,
	RequestChangeDueDate,
	RequestOther,
}

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	for _, known := range RequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Request statuses. Approved, rejected and voided are terminal.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
	RequestVoided   = "voided"
)

// Action types recorded in ActionData.
const (
	ActionExtendBorrow  = "extend_borrow"
	ActionReportLost    = "report_lost"
	ActionReportDamage  = "report_damage"
	ActionEarlyReturn   = "early_return"
	ActionChangeDueDate = "change_due_date"
	ActionMessageOnly   = "message_only"
)

// ActionData is the structured outcome stored on an approved request.
type ActionData struct {
	ActionType     string     `json:"actionType"`
	OldDueDate     *time.Time `json:"oldDueDate,omitempty"`
	NewDueDate     *time.Time `json:"newDueDate,omitempty"`
	SuspensionDays *int       `json:"suspensionDays,omitempty"`
}

// Request is a user-submitted change proposal against an open borrow record.
type Request struct {
	ID             int64       `json:"id"`
	BorrowRecordID int64       `json:"borrow_record_id"`
	RequesterID    int64       `json:"requester_id"`
	Type           RequestType `json:"type"`
	Reason         string      `json:"reason"`
	Description    string      `json:"description,omitempty"`
	RequestedDate  *time.Time  `json:"requested_date,omitempty"`
	Status         string      `json:"status"`
	AdminResponse  string      `json:"admin_response,omitempty"`
	ActionData     *ActionData `json:"action_data,omitempty"`
	ResolvedBy     *int64      `json:"resolved_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}

// Pending reports whether the request still awaits a decision.
func (r *Request) Pending() bool {
	return r.Status == RequestPending
}
