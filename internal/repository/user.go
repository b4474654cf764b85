package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
	"golang.org/x/sync/errgroup"
)

// UserRepository handles store operations for users
type UserRepository struct {
	store treestore.Gateway
	now   func() time.Time
}

// NewUserRepository creates a new user repository
func NewUserRepository(store treestore.Gateway) *UserRepository {
	return &UserRepository{store: store, now: time.Now}
}

func userPath(id string) string {
	return treestore.JoinPath(UsersPath, id)
}

// CreateUserParams holds the sign-up fields of a new user
type CreateUserParams struct {
	ID                string
	EmailAddress      string
	FirstName         string
	LastName          string
	PhoneNumber       string
	Factoids          map[string]string
	Data              models.UserData
	QuestionsAnswered *bool
}

// Create writes a new user. Names are normalized for display and every
// relationship list starts empty.
func (r *UserRepository) Create(ctx context.Context, params CreateUserParams) (*models.User, error) {
	if params.ID == "" {
		return nil, fmt.Errorf("user identifier is required")
	}

	now := r.now()
	user := &models.User{
		ID:           params.ID,
		EmailAddress: params.EmailAddress,
		FirstName:    NormalizeName(params.FirstName),
		LastName:     NormalizeName(params.LastName),
		PhoneNumber:  params.PhoneNumber,
		Factoids:     params.Factoids,
		Data:         params.Data,
	}
	if params.QuestionsAnswered != nil {
		user.QuestionsAnswered = *params.QuestionsAnswered
	}
	user.Data.LastActive = &now

	if err := r.store.Set(ctx, userPath(user.ID), encodeUser(user)); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func encodeUser(u *models.User) map[string]any {
	data := map[string]any{
		"bio":           u.Data.Bio,
		"profileImages": EncodeSet(u.Data.ProfileImages),
	}
	if u.Data.BirthDate != nil {
		data["birthDate"] = FormatDate(*u.Data.BirthDate)
	}
	if u.Data.LastActive != nil {
		data["lastActiveDate"] = FormatDate(*u.Data.LastActive)
	}

	out := map[string]any{
		"emailAddress":      u.EmailAddress,
		"firstName":         u.FirstName,
		"lastName":          u.LastName,
		"phoneNumber":       u.PhoneNumber,
		"userData":          data,
		"questionsAnswered": u.QuestionsAnswered,
		"swipedRightOn":     EncodeSet(u.SwipedRightOn),
		"swipedLeftOn":      EncodeSet(u.SwipedLeftOn),
		"matches":           EncodeSet(u.Matches),
		"openConversations": EncodeSet(u.OpenConversations),
	}
	if len(u.Factoids) > 0 {
		out["factoidData"] = u.Factoids
	}
	return out
}

// Get retrieves a user by ID
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	value, err := r.store.Get(ctx, userPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return decodeUser(id, value)
}

func decodeUser(id string, value any) (*models.User, error) {
	rec, err := asRecord("user", id, value)
	if err != nil {
		return nil, err
	}

	u := &models.User{ID: id}
	if u.EmailAddress, err = rec.str("emailAddress"); err != nil {
		return nil, err
	}
	if u.FirstName, err = rec.str("firstName"); err != nil {
		return nil, err
	}
	if u.LastName, err = rec.str("lastName"); err != nil {
		return nil, err
	}
	if u.PhoneNumber, err = rec.str("phoneNumber"); err != nil {
		return nil, err
	}
	if u.Factoids, err = rec.optionalStringMap("factoidData"); err != nil {
		return nil, err
	}
	if u.QuestionsAnswered, err = rec.optionalBool("questionsAnswered"); err != nil {
		return nil, err
	}

	data, err := rec.object("userData")
	if err != nil {
		return nil, err
	}
	if u.Data.Bio, err = data.optionalStr("bio"); err != nil {
		return nil, err
	}
	if u.Data.BirthDate, err = data.optionalDate("birthDate"); err != nil {
		return nil, err
	}
	if u.Data.ProfileImages, err = data.optionalSet("profileImages"); err != nil {
		return nil, err
	}
	if u.Data.LastActive, err = data.optionalDate("lastActiveDate"); err != nil {
		return nil, err
	}

	if u.SwipedRightOn, err = rec.set("swipedRightOn"); err != nil {
		return nil, err
	}
	if u.SwipedLeftOn, err = rec.set("swipedLeftOn"); err != nil {
		return nil, err
	}
	if u.Matches, err = rec.set("matches"); err != nil {
		return nil, err
	}
	if u.OpenConversations, err = rec.set("openConversations"); err != nil {
		return nil, err
	}
	return u, nil
}

// GetMany retrieves users by ID. It fails as a whole if any ID fails.
func (r *UserRepository) GetMany(ctx context.Context, ids []string) ([]*models.User, error) {
	return fanOut(ctx, ids, r.Get)
}

// IDs returns every user identifier.
func (r *UserRepository) IDs(ctx context.Context) ([]string, error) {
	ids, err := r.store.Keys(ctx, UsersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

// RandomIDs returns a shuffled selection of user identifiers. A nil amount
// returns every user. Asking for more users than exist returns all of them
// together with NoticeAmountExceedsPopulation.
func (r *UserRepository) RandomIDs(ctx context.Context, amount *int) ([]string, Notice, error) {
	ids, err := r.IDs(ctx)
	if err != nil {
		return nil, NoNotice, err
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	if amount == nil {
		return ids, NoNotice, nil
	}
	if *amount < 0 {
		return nil, NoNotice, fmt.Errorf("amount must not be negative")
	}
	if *amount > len(ids) {
		return ids, NoticeAmountExceedsPopulation, nil
	}
	return ids[:*amount], NoNotice, nil
}

func swipeField(direction models.SwipeDirection) (string, error) {
	switch direction {
	case models.SwipeRight:
		return "swipedRightOn", nil
	case models.SwipeLeft:
		return "swipedLeftOn", nil
	default:
		return "", fmt.Errorf("unknown swipe direction %q", direction)
	}
}

// Swipe records that userID swiped direction on onUserID and touches the
// user's last active date. Repeated swipes are stored once. It does not
// create matches.
func (r *UserRepository) Swipe(ctx context.Context, userID string, direction models.SwipeDirection, onUserID string) error {
	field, err := swipeField(direction)
	if err != nil {
		return err
	}
	touch := map[string]any{"userData/lastActiveDate": FormatDate(r.now())}
	return mutateSet(ctx, r.store, "user", userPath(userID), field, addID(onUserID), touch)
}

// UndoSwipe removes onUserID from the swipe list. Nothing is written when
// it is not there.
func (r *UserRepository) UndoSwipe(ctx context.Context, userID string, direction models.SwipeDirection, onUserID string) error {
	field, err := swipeField(direction)
	if err != nil {
		return err
	}
	return mutateSet(ctx, r.store, "user", userPath(userID), field, removeID(onUserID), nil)
}

// UpdateMatches adds each user to the other's matches. Both writes run
// concurrently and the call returns once both have finished, whichever
// order they complete in.
func (r *UserRepository) UpdateMatches(ctx context.Context, userID, withUserID string) error {
	if userID == withUserID {
		return fmt.Errorf("cannot match user %s with themselves", userID)
	}
	return r.forBoth(ctx, userID, withUserID, func(ctx context.Context, id, other string) error {
		return mutateSet(ctx, r.store, "user", userPath(id), "matches", addID(other), nil)
	})
}

// RemoveMatch removes each user from the other's matches and then removes
// between from the right swipes of and, so the pair could match again.
func (r *UserRepository) RemoveMatch(ctx context.Context, between, and string) error {
	err := r.forBoth(ctx, between, and, func(ctx context.Context, id, other string) error {
		return mutateSet(ctx, r.store, "user", userPath(id), "matches", removeID(other), nil)
	})
	if err != nil {
		return err
	}
	if err := r.UndoSwipe(ctx, and, models.SwipeRight, between); err != nil {
		return fmt.Errorf("failed to undo swipe: %w", err)
	}
	return nil
}

// forBoth runs fn for (a, b) and (b, a) and joins on both.
func (r *UserRepository) forBoth(ctx context.Context, a, b string, fn func(ctx context.Context, id, other string) error) error {
	errs := make([]error, 2)
	var g errgroup.Group
	g.Go(func() error {
		errs[0] = fn(ctx, a, b)
		return nil
	})
	g.Go(func() error {
		errs[1] = fn(ctx, b, a)
		return nil
	})
	_ = g.Wait()
	return joinErrors(errs)
}

// TouchLastActive sets the user's last active date to now.
func (r *UserRepository) TouchLastActive(ctx context.Context, userID string) error {
	value, err := r.store.Get(ctx, userPath(userID))
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if value == nil {
		return notFound("user", userID)
	}
	fields := map[string]any{"userData/lastActiveDate": FormatDate(r.now())}
	if err := r.store.Update(ctx, userPath(userID), fields); err != nil {
		return fmt.Errorf("failed to update last active date: %w", err)
	}
	return nil
}

// AddProfileImage appends an image URL to the user's ordered profile images.
func (r *UserRepository) AddProfileImage(ctx context.Context, userID, imageURL string) error {
	return mutateSet(ctx, r.store, "user", userPath(userID), "userData/profileImages", addID(imageURL), nil)
}

// RemoveMatchReference drops otherID from the user's matches only.
func (r *UserRepository) RemoveMatchReference(ctx context.Context, userID, otherID string) error {
	err := mutateSet(ctx, r.store, "user", userPath(userID), "matches", removeID(otherID), nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// AddMatchReference adds otherID to the user's matches only.
func (r *UserRepository) AddMatchReference(ctx context.Context, userID, otherID string) error {
	return mutateSet(ctx, r.store, "user", userPath(userID), "matches", addID(otherID), nil)
}

// SetPushToken stores the device token used for push notifications.
func (r *UserRepository) SetPushToken(ctx context.Context, userID, token string) error {
	var value any
	if token != "" {
		value = token
	}
	if err := r.store.Set(ctx, treestore.JoinPath(PushTokensPath, userID), value); err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

// GetPushToken returns the device token, or "" when none is registered.
func (r *UserRepository) GetPushToken(ctx context.Context, userID string) (string, error) {
	value, err := r.store.Get(ctx, treestore.JoinPath(PushTokensPath, userID))
	if err != nil {
		return "", fmt.Errorf("failed to get push token: %w", err)
	}
	token, _ := value.(string)
	return token, nil
}
