package webapi

import (
	"context"
	"fmt"
)

// Schema reads the item schema of one game through
// IEconItems_<appid>/GetSchema.
type Schema struct {
	appID  int
	method *Method
}

// NewSchema prepares the schema request for appID. A non-empty language is
// sent as the "language" argument.
func NewSchema(session *Session, appID int, language string) *Schema {
	m := session.Interface(fmt.Sprintf("IEconItems_%d", appID)).Method("get_schema", 1)
	if language != "" {
		m = m.WithArguments(Arguments{"language": language})
	}

	return &Schema{appID: appID, method: m}
}

// AppID returns the game the schema belongs to.
func (s *Schema) AppID() int {
	return s.appID
}

// Method returns the underlying GetSchema call.
func (s *Schema) Method() *Method {
	return s.method
}

// Data returns the whole decoded reply.
func (s *Schema) Data(ctx context.Context) (map[string]any, error) {
	c, err := s.method.Get(ctx)
	if err != nil {
		return nil, err
	}

	return c.Data(ctx)
}

// Items returns the entries of result.items. Entries that are not JSON
// objects are skipped; a reply without the list gives no items.
func (s *Schema) Items(ctx context.Context) ([]map[string]any, error) {
	data, err := s.Data(ctx)
	if err != nil {
		return nil, err
	}

	result, _ := data["result"].(map[string]any)
	raw, _ := result["items"].([]any)

	items := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if item, ok := v.(map[string]any); ok {
			items = append(items, item)
		}
	}

	return items, nil
}
