package blueprint

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type listParams struct {
	where    map[string]interface{}
	populate []string
	sort     string
	limit    int
	skip     int
}

// parseListParams reads ?where={json}&populate=a,b&sort=age%20desc&limit=10&skip=5.
// populate may also be repeated.
func parseListParams(q url.Values) (*listParams, error) {
	p := &listParams{sort: q.Get("sort")}

	if raw := q.Get("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.where); err != nil {
			return nil, fmt.Errorf("%w: where must be a JSON object: %v", errBadRequest, err)
		}
	}

	for _, v := range q["populate"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				p.populate = append(p.populate, name)
			}
		}
	}

	var err error
	if p.limit, err = nonNegative(q, "limit"); err != nil {
		return nil, err
	}
	if p.skip, err = nonNegative(q, "skip"); err != nil {
		return nil, err
	}
	return p, nil
}

func nonNegative(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}
