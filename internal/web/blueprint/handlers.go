package blueprint

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/waterline/internal/orm/collection"
	"github.com/conduit-lang/waterline/internal/orm/record"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// modelSummary describes one collection on the index route
type modelSummary struct {
	Identity     string   `json:"identity"`
	Adapter      string   `json:"adapter"`
	PrimaryKey   string   `json:"primaryKey"`
	Attributes   []string `json:"attributes"`
	Associations []string `json:"associations,omitempty"`
}

func (bp *blueprint) index(w http.ResponseWriter, r *http.Request) {
	collections := bp.ontology.Collections()
	out := make([]modelSummary, 0, len(collections))
	for _, c := range collections {
		model := c.Model()
		summary := modelSummary{
			Identity:   model.Identity,
			Adapter:    bp.ontology.AdapterName(model.Identity),
			PrimaryKey: model.PrimaryKey,
			Attributes: model.StoredAttributes(),
		}
		for _, attr := range model.Associations() {
			summary.Associations = append(summary.Associations, attr.Name)
		}
		sort.Strings(summary.Associations)
		out = append(out, summary)
	}
	renderJSON(w, http.StatusOK, out)
}

func (bp *blueprint) collection(w http.ResponseWriter, r *http.Request) (*collection.Collection, bool) {
	c, err := bp.ontology.Collection(chi.URLParam(r, "model"))
	if err != nil {
		bp.fail(w, r, err)
		return nil, false
	}
	return c, true
}

func (bp *blueprint) find(w http.ResponseWriter, r *http.Request) {
	c, ok := bp.collection(w, r)
	if !ok {
		return
	}

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	op := c.Find().WhereMap(params.where)
	for _, p := range params.populate {
		op.Populate(p)
	}
	if params.sort != "" {
		op.SortString(params.sort)
	}
	if params.limit > 0 {
		op.Limit(params.limit)
	}
	if params.skip > 0 {
		op.Skip(params.skip)
	}

	records, err := op.All(r.Context())
	if err != nil {
		bp.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, records)
}

func (bp *blueprint) findOne(w http.ResponseWriter, r *http.Request) {
	c, ok := bp.collection(w, r)
	if !ok {
		return
	}

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	where, err := byID(c, r)
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	rec, err := c.FindOne(r.Context(), where, params.populate...)
	if err != nil {
		bp.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, rec)
}

func (bp *blueprint) create(w http.ResponseWriter, r *http.Request) {
	c, ok := bp.collection(w, r)
	if !ok {
		return
	}

	values, err := decodeBody(r)
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	rec, err := c.Create(r.Context(), values)
	if err != nil {
		bp.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusCreated, rec)
}

// update sets each attribute in the body on the stored record and saves it. A
// collection attribute given as a list replaces that association's membership.
func (bp *blueprint) update(w http.ResponseWriter, r *http.Request) {
	c, ok := bp.collection(w, r)
	if !ok {
		return
	}

	changes, err := decodeBody(r)
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	where, err := byID(c, r)
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	rec, err := c.FindOne(r.Context(), where)
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	if err := apply(c.Model(), rec, changes); err != nil {
		bp.fail(w, r, err)
		return
	}

	if err := c.Save(r.Context(), rec); err != nil {
		bp.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, rec)
}

func (bp *blueprint) destroy(w http.ResponseWriter, r *http.Request) {
	c, ok := bp.collection(w, r)
	if !ok {
		return
	}

	where, err := byID(c, r)
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	rec, err := c.FindOne(r.Context(), where)
	if err != nil {
		bp.fail(w, r, err)
		return
	}

	if _, err := c.Destroy(r.Context(), where); err != nil {
		bp.fail(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, rec)
}

// byID builds the where for the {id} segment, parsed as the primary key's type
func byID(c *collection.Collection, r *http.Request) (map[string]interface{}, error) {
	model := c.Model()
	raw := chi.URLParam(r, "id")

	var id interface{} = raw
	if attr, ok := model.Attribute(model.PrimaryKey); ok {
		switch attr.Type {
		case schema.TypeInteger:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be an integer, got %q", errBadRequest, model.PrimaryKey, raw)
			}
			id = n
		case schema.TypeFloat:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a number, got %q", errBadRequest, model.PrimaryKey, raw)
			}
			id = f
		}
	}
	return map[string]interface{}{model.PrimaryKey: id}, nil
}

func apply(model *schema.Model, rec *record.Record, changes map[string]interface{}) error {
	for _, name := range sortedKeys(changes) {
		value := changes[name]
		if attr, ok := model.Attribute(name); ok && attr.Kind == schema.KindCollection {
			members, isList := value.([]interface{})
			if !isList && value != nil {
				return fmt.Errorf("%w: %s must be a list of %s ids", errBadRequest, name, attr.Target)
			}
			if err := rec.SetCollection(name, members...); err != nil {
				return err
			}
			continue
		}
		if err := rec.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: request body must be a JSON object: %v", errBadRequest, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: request body must be a JSON object", errBadRequest)
	}
	return body, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
