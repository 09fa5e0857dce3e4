package models

import "time"

const RequestsCollection = "requests"

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Final reports whether no further transition is expected.
func (s RequestStatus) Final() bool {
	return s == StatusApproved || s == StatusRejected
}

type RequestKind string

const (
	KindBooking RequestKind = "booking"
	KindOrder   RequestKind = "order"
)

// RequestItem is one requested component/quantity pair.
type RequestItem struct {
	ComponentID   string `bson:"componentId" json:"componentId" binding:"required" validate:"required"`
	ComponentName string `bson:"componentName" json:"componentName"`
	Quantity      int    `bson:"quantity" json:"quantity" binding:"required,gt=0" validate:"gt=0"`
}

// BookingDetails holds the lab scheduling fields of a booking. The approval
// engine never looks at them.
type BookingDetails struct {
	Date             string `bson:"date" json:"date"`
	StartTime        string `bson:"startTime" json:"startTime"`
	EndTime          string `bson:"endTime" json:"endTime"`
	Purpose          string `bson:"purpose,omitempty" json:"purpose,omitempty"`
	CourseCode       string `bson:"courseCode,omitempty" json:"courseCode,omitempty"`
	Topic            string `bson:"topic,omitempty" json:"topic,omitempty"`
	NumberOfStudents int    `bson:"numberOfStudents,omitempty" json:"numberOfStudents,omitempty"`
	Requirements     string `bson:"requirements,omitempty" json:"requirements,omitempty"`
}

// ReservationRequest covers both lab bookings and component orders.
type ReservationRequest struct {
	ID        string          `bson:"_id" json:"id"`
	Kind      RequestKind     `bson:"kind" json:"kind"`
	UserID    string          `bson:"userId" json:"userId"`
	UserName  string          `bson:"userName" json:"userName"`
	Status    RequestStatus   `bson:"status" json:"status"`
	Items     []RequestItem   `bson:"items" json:"items" validate:"dive"`
	Booking   *BookingDetails `bson:"booking,omitempty" json:"booking,omitempty"`
	CreatedAt time.Time       `bson:"createdAt" json:"createdAt"`
	DecidedAt *time.Time      `bson:"decidedAt,omitempty" json:"decidedAt,omitempty"`
	DecidedBy string          `bson:"decidedBy,omitempty" json:"decidedBy,omitempty"`
}
