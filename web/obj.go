package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/objects"
	"github.com/nestormc/nestor/value"
)

// ObjectJSON is the JSON form of an object.
type ObjectJSON struct {
	Ref   string     `json:"objref"`
	Owner string     `json:"owner"`
	OID   string     `json:"oid"`
	Types []string   `json:"types"`
	Props *value.Map `json:"props"`
}

// ParamJSON is the JSON form of an action parameter.
type ParamJSON struct {
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Optional bool         `json:"optional,omitempty"`
	Default  *value.Value `json:"default,omitempty"`
}

// ActionJSON is the JSON form of a described action.
type ActionJSON struct {
	Name      string      `json:"name"`
	Processor string      `json:"processor"`
	Params    []ParamJSON `json:"params"`
}

func objectJSON(o *objects.Object) ObjectJSON {
	return ObjectJSON{
		Ref:   o.Ref(),
		Owner: o.Owner(),
		OID:   o.OID(),
		Types: o.Types(),
		Props: o.Props(),
	}
}

func actionJSON(a *objects.Action) ActionJSON {
	out := ActionJSON{Name: a.Name, Processor: a.Processor, Params: []ParamJSON{}}
	for _, p := range a.Params() {
		pj := ParamJSON{Name: p.Name, Type: p.Type.String(), Optional: p.Optional}
		if !p.Default.IsNull() {
			d := p.Default
			pj.Default = &d
		}
		out.Params = append(out.Params, pj)
	}
	return out
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	parts, err := segments(r, "/obj/")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, r, errors.ErrNoQuery())
		return
	}

	switch parts[0] {
	case "events":
		if len(parts) == 1 {
			s.handleEvents(w, r)
			return
		}
	case "list":
		s.objList(w, r, parts[1:])
		return
	case "actions":
		s.objActions(w, r, parts[1:])
		return
	case "action":
		s.objAction(w, r, parts[1:])
		return
	case "notify":
		s.objNotify(w, r, parts[1:])
		return
	}
	s.objGet(w, r, strings.Join(parts, "/"))
}

// objGet answers /obj/<objref>.
func (s *Server) objGet(w http.ResponseWriter, r *http.Request, ref string) {
	o, err := s.objects.Get(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objectJSON(o))
}

// objList answers /obj/list/<owners> with the query parameters q (textual
// expression), types, offset, limit, sort and reverse. An empty owner list
// or "*" searches every provider.
func (s *Server) objList(w http.ResponseWriter, r *http.Request, args []string) {
	req := objects.MatchRequest{Owners: s.objects.Providers(), Limit: objects.NoLimit}
	if owners := strings.Join(args, "/"); owners != "" && owners != "*" {
		req.Owners = strings.Split(owners, ",")
	}

	query := r.URL.Query()
	var err error
	if q := query.Get("q"); q != "" {
		if req.Expr, err = expr.Parse(q); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if t := query.Get("types"); t != "" {
		req.Types = strings.Split(t, ",")
	}
	if req.Offset, err = uintParam(query.Get("offset")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if l := query.Get("limit"); l != "" {
		if req.Limit, err = uintParam(l); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	req.SortField = query.Get("sort")
	req.SortReverse = query.Get("reverse") == "1" || query.Get("reverse") == "true"

	objs, err := s.objects.MatchObjects(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ObjectJSON, 0, len(objs))
	for _, o := range objs {
		out = append(out, objectJSON(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// objActions answers /obj/actions/<processor>/<objref>.
func (s *Server) objActions(w http.ResponseWriter, r *http.Request, args []string) {
	if len(args) < 2 {
		s.writeError(w, r, errors.ErrInvalidActionSpec())
		return
	}
	actions, err := s.objects.GetActions(r.Context(), args[0], strings.Join(args[1:], "/"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ActionJSON, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// objAction answers /obj/action/<processor>/<action>/<objref>[/<k=v,...>].
// A last segment containing "=" carries the parameters.
func (s *Server) objAction(w http.ResponseWriter, r *http.Request, args []string) {
	if len(args) < 3 || args[0] == "" || args[1] == "" {
		s.writeError(w, r, errors.ErrInvalidActionSpec())
		return
	}
	processor, action, rest := args[0], args[1], args[2:]

	params := make(map[string]value.Value)
	if last := rest[len(rest)-1]; len(rest) > 1 && strings.Contains(last, "=") {
		rest = rest[:len(rest)-1]
		for _, kv := range strings.Split(last, ",") {
			name, val, ok := strings.Cut(kv, "=")
			if name == "" {
				s.writeError(w, r, errors.ErrInvalidActionSpec())
				return
			}
			if !ok {
				s.writeError(w, r, errors.ErrMissingParamValue(name))
				return
			}
			params[name] = value.String(val)
		}
	}

	progress, err := s.objects.DoAction(r.Context(), processor, action, strings.Join(rest, "/"), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if progress != nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing", "progress": progress.ID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// objNotify answers /obj/notify/<name>[/<objref>].
func (s *Server) objNotify(w http.ResponseWriter, r *http.Request, args []string) {
	if len(args) < 1 || args[0] == "" {
		s.writeError(w, r, errors.ErrNoQuery())
		return
	}
	name := args[0]
	ref := strings.Join(args[1:], "/")
	if ref != "" {
		if _, _, err := objects.ParseRef(ref); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.objects.Notify(name, ref)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func uintParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "web", "uintParam", "parse "+strconv.Quote(s))
	}
	return n, nil
}
