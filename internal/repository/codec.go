package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
	"golang.org/x/sync/errgroup"
)

// Top level collections of the deployed tree
const (
	UsersPath         = "allUsers"
	ConversationsPath = "allConversations"
	MessagesPath      = "allMessages"
	PushTokensPath    = "pushTokens"
)

// EmptySentinel stands in for an empty relationship list on the wire.
const EmptySentinel = "!"

// Dates are persisted as "yyyy-MM-dd HH:mm:ss zzz" (en_GB) and always
// written in GMT.
const (
	dateLayout      = "2006-01-02 15:04:05 MST"
	writeDateLayout = "2006-01-02 15:04:05"
)

// zone abbreviations en_GB clients emit that Go cannot resolve on its own
var zoneOffsets = map[string]int{
	"BST":  1 * 3600,
	"IST":  1 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
	"EET":  2 * 3600,
	"EEST": 3 * 3600,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
}

// FormatDate renders t in the persisted date format.
func FormatDate(t time.Time) string {
	return t.UTC().Format(writeDateLayout) + " GMT"
}

// ParseDate parses a persisted date. Anything else is an error.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	name, offset := t.Zone()
	if known, ok := zoneOffsets[name]; ok && offset != known {
		wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.FixedZone(name, known))
		return wall, nil
	}
	return t, nil
}

// unreadDate marks a message delivered but not yet read.
var unreadDate = time.Unix(0, 0).UTC()

// UnreadDate returns the read date of a delivered but unread message.
func UnreadDate() time.Time {
	return unreadDate
}

// EncodeSet writes an empty list as the sentinel.
func EncodeSet(ids []string) []string {
	if len(ids) == 0 {
		return []string{EmptySentinel}
	}
	return ids
}

// DecodeSet turns a stored list into ids, mapping the sentinel back to nil.
func DecodeSet(value any) ([]string, bool) {
	if value == nil {
		return nil, true
	}
	list, ok := value.([]any)
	if !ok {
		return nil, false
	}
	var ids []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		if s == EmptySentinel {
			continue
		}
		ids = append(ids, s)
	}
	return ids, true
}

// record is a fetched node with type-checked field accessors. Every
// accessor fails closed with a DeserializeError naming the field.
type record struct {
	kind   string
	id     string
	fields map[string]any
}

func asRecord(kind, id string, value any) (*record, error) {
	if value == nil {
		return nil, notFound(kind, id)
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, &DeserializeError{Kind: kind, ID: id}
	}
	return &record{kind: kind, id: id, fields: fields}, nil
}

func (r *record) fail(field string) error {
	return &DeserializeError{Kind: r.kind, ID: r.id, Field: field}
}

func (r *record) str(field string) (string, error) {
	s, ok := r.fields[field].(string)
	if !ok {
		return "", r.fail(field)
	}
	return s, nil
}

func (r *record) optionalStr(field string) (string, error) {
	v, present := r.fields[field]
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", r.fail(field)
	}
	return s, nil
}

func (r *record) optionalBool(field string) (bool, error) {
	v, present := r.fields[field]
	if !present || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, r.fail(field)
	}
	return b, nil
}

// set reads a required relationship list. The sentinel decodes to nil.
func (r *record) set(field string) ([]string, error) {
	v, present := r.fields[field]
	if !present {
		return nil, r.fail(field)
	}
	ids, ok := DecodeSet(v)
	if !ok {
		return nil, r.fail(field)
	}
	return ids, nil
}

// optionalSet reads a relationship list that may be absent.
func (r *record) optionalSet(field string) ([]string, error) {
	ids, ok := DecodeSet(r.fields[field])
	if !ok {
		return nil, r.fail(field)
	}
	return ids, nil
}

// at walks a slash separated field path inside the record.
func (r *record) at(field string) any {
	var node any = r.fields
	for _, seg := range treestore.SplitPath(field) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

func (r *record) date(field string) (time.Time, error) {
	s, err := r.str(field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, r.fail(field)
	}
	return t, nil
}

func (r *record) optionalDate(field string) (*time.Time, error) {
	v, present := r.fields[field]
	if !present || v == nil {
		return nil, nil
	}
	t, err := r.date(field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *record) object(field string) (*record, error) {
	fields, ok := r.fields[field].(map[string]any)
	if !ok {
		return nil, r.fail(field)
	}
	return &record{kind: r.kind, id: r.id, fields: fields}, nil
}

func (r *record) optionalStringMap(field string) (map[string]string, error) {
	v, present := r.fields[field]
	if !present || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, r.fail(field)
	}
	out := make(map[string]string, len(raw))
	for k, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, r.fail(field)
		}
		out[k] = s
	}
	return out, nil
}

// maxFanOut bounds concurrent reads issued by a batch operation.
const maxFanOut = 16

// fanOut runs fn for every id and only returns once all have finished.
// Results keep the order of ids. Any failure discards every result and
// reports all failures together.
func fanOut[T any](ctx context.Context, ids []string, fn func(ctx context.Context, id string) (T, error)) ([]T, error) {
	results := make([]T, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(maxFanOut)
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return nil, &BatchError{Errors: failed}
	}
	return results, nil
}

// mutateSet is the read-modify-write used for every relationship list. It
// reads the list at field of the record at recordPath, applies fn and
// writes the result back together with extra. Nothing is written when fn
// reports no change. Concurrent writers can overwrite each other.
func mutateSet(
	ctx context.Context,
	store treestore.Gateway,
	kind, recordPath, field string,
	fn func(ids []string) ([]string, bool),
	extra map[string]any,
) error {
	segs := treestore.SplitPath(recordPath)
	id := segs[len(segs)-1]

	value, err := store.Get(ctx, recordPath)
	if err != nil {
		return fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	rec, err := asRecord(kind, id, value)
	if err != nil {
		return err
	}
	current, ok := DecodeSet(rec.at(field))
	if !ok {
		return rec.fail(field)
	}

	next, changed := fn(current)
	if !changed && len(extra) == 0 {
		return nil
	}

	fields := map[string]any{}
	for k, v := range extra {
		fields[k] = v
	}
	if changed {
		fields[field] = EncodeSet(next)
	}
	if err := store.Update(ctx, recordPath, fields); err != nil {
		return fmt.Errorf("failed to update %s of %s %s: %w", field, kind, id, err)
	}
	return nil
}

func addID(id string) func([]string) ([]string, bool) {
	return func(ids []string) ([]string, bool) {
		for _, existing := range ids {
			if existing == id {
				return ids, false
			}
		}
		return append(ids, id), true
	}
}

func removeID(id string) func([]string) ([]string, bool) {
	return func(ids []string) ([]string, bool) {
		out := make([]string, 0, len(ids))
		for _, existing := range ids {
			if existing != id {
				out = append(out, existing)
			}
		}
		return out, len(out) != len(ids)
	}
}

// appendID appends without deduplication, for ordered lists such as the
// messages of a conversation.
func appendID(id string) func([]string) ([]string, bool) {
	return func(ids []string) ([]string, bool) {
		return append(ids, id), true
	}
}
