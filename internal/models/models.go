package models

import "time"

// User represents a profile stored under allUsers
type User struct {
	ID                string            `json:"id"`
	EmailAddress      string            `json:"email_address"`
	FirstName         string            `json:"first_name"`
	LastName          string            `json:"last_name"`
	PhoneNumber       string            `json:"phone_number"`
	Factoids          map[string]string `json:"factoids,omitempty"`
	Data              UserData          `json:"user_data"`
	QuestionsAnswered bool              `json:"questions_answered"`

	// Relationship sets, nil when empty
	SwipedRightOn     []string `json:"swiped_right_on,omitempty"`
	SwipedLeftOn      []string `json:"swiped_left_on,omitempty"`
	Matches           []string `json:"matches,omitempty"`
	OpenConversations []string `json:"open_conversations,omitempty"`
}

// UserData holds the free-form profile details
type UserData struct {
	Bio           string     `json:"bio,omitempty"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	ProfileImages []string   `json:"profile_images,omitempty"`
	LastActive    *time.Time `json:"last_active,omitempty"`
}

// HasMatch reports whether userID is in the user's matches
func (u *User) HasMatch(userID string) bool {
	return contains(u.Matches, userID)
}

// HasSwiped reports whether the user swiped direction on userID
func (u *User) HasSwiped(direction SwipeDirection, userID string) bool {
	if direction == SwipeRight {
		return contains(u.SwipedRightOn, userID)
	}
	return contains(u.SwipedLeftOn, userID)
}

// Conversation represents a chat between two matched users
type Conversation struct {
	ID                 string    `json:"id"`
	AssociatedMessages []string  `json:"associated_messages"`
	Participants       []string  `json:"participants"`
	LastModified       time.Time `json:"last_modified"`

	// OtherUser is resolved per request and never persisted
	OtherUser *User `json:"other_user,omitempty"`
}

// OtherParticipant returns the participant that is not userID
func (c *Conversation) OtherParticipant(userID string) (string, bool) {
	for _, id := range c.Participants {
		if id != userID {
			return id, true
		}
	}
	return "", false
}

// HasParticipant reports whether userID takes part in the conversation
func (c *Conversation) HasParticipant(userID string) bool {
	return contains(c.Participants, userID)
}

// ReadState is the delivery state of a message
type ReadState int

const (
	Undelivered ReadState = iota
	Delivered
	Read
)

func (s ReadState) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	default:
		return "undelivered"
	}
}

// Message represents a single chat message
type Message struct {
	ID                    string     `json:"id"`
	FromAccountIdentifier string     `json:"from_account_identifier"`
	Content               string     `json:"content"`
	SentDate              time.Time  `json:"sent_date"`
	ReadDate              *time.Time `json:"read_date,omitempty"`
}

// State derives the read state; a zero-epoch read date means delivered but unread
func (m *Message) State() ReadState {
	switch {
	case m.ReadDate == nil:
		return Undelivered
	case m.ReadDate.Unix() == 0:
		return Delivered
	default:
		return Read
	}
}

// SwipeDirection is the direction of a swipe on a card
type SwipeDirection string

const (
	SwipeLeft  SwipeDirection = "left"
	SwipeRight SwipeDirection = "right"
)

// Valid reports whether d is a known direction
func (d SwipeDirection) Valid() bool {
	return d == SwipeLeft || d == SwipeRight
}

// Session identifies the signed in account for a request
type Session struct {
	AccountID string    `json:"account_id"`
	TokenID   string    `json:"token_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
