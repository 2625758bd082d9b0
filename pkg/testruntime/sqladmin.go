package testruntime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"google.golang.org/api/option"
	sqladmin "google.golang.org/api/sqladmin/v1"
)

const sqlPrefix = "/v1/projects/{project}"

// FakeSQLAdmin serves the subset of the sqladmin API used by the activities.
// Operations are DONE after PollsBeforeDone polls.
type FakeSQLAdmin struct {
	PollsBeforeDone int

	mu             sync.Mutex
	instances      map[string]*sqladmin.DatabaseInstance
	bodies         map[string]json.RawMessage
	operations     map[string]int
	operationCount int

	server *httptest.Server
}

func StartFakeSQLAdmin(t *testing.T, pollsBeforeDone int) *FakeSQLAdmin {
	t.Helper()

	f := FakeSQLAdmin{
		PollsBeforeDone: pollsBeforeDone,
		instances:       make(map[string]*sqladmin.DatabaseInstance),
		bodies:          make(map[string]json.RawMessage),
		operations:      make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+sqlPrefix+"/instances", f.listInstances)
	mux.HandleFunc("GET "+sqlPrefix+"/instances/{instance}", f.getInstance)
	mux.HandleFunc("PATCH "+sqlPrefix+"/instances/{instance}", f.instanceAction("patch"))
	mux.HandleFunc("POST "+sqlPrefix+"/instances/{instance}/failover", f.instanceAction("failover"))
	mux.HandleFunc("POST "+sqlPrefix+"/instances/{instance}/export", f.instanceAction("export"))
	mux.HandleFunc("POST "+sqlPrefix+"/instances/{instance}/promoteReplica", f.instanceAction("promoteReplica"))
	mux.HandleFunc("GET "+sqlPrefix+"/operations/{operation}", f.getOperation)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return &f
}

func (f *FakeSQLAdmin) ClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(f.server.URL + "/"),
		option.WithoutAuthentication(),
	}
}

func (f *FakeSQLAdmin) AddInstance(instance *sqladmin.DatabaseInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.instances[instance.Name] = instance
}

// Body returns the raw body received by the last call of action on instance.
func (f *FakeSQLAdmin) Body(action, instance string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.bodies[action+"/"+instance]
}

func (f *FakeSQLAdmin) listInstances(rw http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp sqladmin.InstancesListResponse

	for _, instance := range f.instances {
		resp.Items = append(resp.Items, instance)
	}

	sort.Slice(resp.Items, func(i, j int) bool {
		return resp.Items[i].Name < resp.Items[j].Name
	})

	writeJSON(rw, &resp)
}

func (f *FakeSQLAdmin) getInstance(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	instance, ok := f.instances[r.PathValue("instance")]
	if !ok {
		writeNotFound(rw, "instance", r.PathValue("instance"))
		return
	}

	writeJSON(rw, instance)
}

func (f *FakeSQLAdmin) instanceAction(action string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		name := r.PathValue("instance")
		if _, ok := f.instances[name]; !ok {
			writeNotFound(rw, "instance", name)
			return
		}

		var body json.RawMessage
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(rw, http.StatusBadRequest, err.Error())
				return
			}
		}

		f.bodies[action+"/"+name] = body
		f.operationCount++

		op := sqladmin.Operation{
			Name:          fmt.Sprintf("operation-%s-%d", action, f.operationCount),
			Status:        "PENDING",
			OperationType: action,
			TargetId:      name,
		}

		f.operations[op.Name] = f.PollsBeforeDone

		writeJSON(rw, &op)
	}
}

func (f *FakeSQLAdmin) getOperation(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := r.PathValue("operation")

	remaining, ok := f.operations[name]
	if !ok {
		writeNotFound(rw, "operation", name)
		return
	}

	if remaining > 0 {
		remaining--
		f.operations[name] = remaining
	}

	op := sqladmin.Operation{Name: name, Status: "RUNNING"}
	if remaining == 0 {
		op.Status = "DONE"
	}

	writeJSON(rw, &op)
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
	}
}
