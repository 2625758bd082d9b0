package testruntime

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const computePrefix = "/compute/v1/projects/{project}"

// FakeCompute serves the subset of the compute REST API used by the activities,
// storing everything in memory. Operations complete after PollsBeforeDone
// polls, or never when PollsBeforeDone is negative.
type FakeCompute struct {
	PollsBeforeDone int

	mu             sync.Mutex
	urlMaps        map[string]*computepb.UrlMap
	backends       map[string]*computepb.BackendService
	health         map[string]*computepb.BackendServiceGroupHealth
	instances      map[string]*computepb.Instance
	negs           map[string]*computepb.NetworkEndpointGroup
	negEndpoints   map[string][]*computepb.NetworkEndpoint
	operations     map[string]int
	operationCount int
	requests       []string

	server *httptest.Server
}

func StartFakeCompute(t *testing.T, pollsBeforeDone int) *FakeCompute {
	t.Helper()

	f := FakeCompute{
		PollsBeforeDone: pollsBeforeDone,
		urlMaps:         make(map[string]*computepb.UrlMap),
		backends:        make(map[string]*computepb.BackendService),
		health:          make(map[string]*computepb.BackendServiceGroupHealth),
		instances:       make(map[string]*computepb.Instance),
		negs:            make(map[string]*computepb.NetworkEndpointGroup),
		negEndpoints:    make(map[string][]*computepb.NetworkEndpoint),
		operations:      make(map[string]int),
	}

	mux := http.NewServeMux()

	for _, scope := range []string{"/global", "/regions/{region}"} {
		mux.HandleFunc("GET "+computePrefix+scope+"/urlMaps", f.listURLMaps)
		mux.HandleFunc("GET "+computePrefix+scope+"/urlMaps/{name}", f.getURLMap)
		mux.HandleFunc("PUT "+computePrefix+scope+"/urlMaps/{name}", f.updateURLMap)
		mux.HandleFunc("GET "+computePrefix+scope+"/operations/{name}", f.getOperation)
		mux.HandleFunc("GET "+computePrefix+scope+"/backendServices/{name}", f.getBackendService)
		mux.HandleFunc("POST "+computePrefix+scope+"/backendServices/{name}/getHealth", f.getHealth)
	}

	mux.HandleFunc("GET "+computePrefix+"/zones/{zone}/operations/{name}", f.getOperation)
	mux.HandleFunc("GET "+computePrefix+"/zones/{zone}/instances/{name}", f.getInstance)
	mux.HandleFunc("POST "+computePrefix+"/zones/{zone}/instances/{name}/setTags", f.setTags)
	mux.HandleFunc("POST "+computePrefix+"/zones/{zone}/instances/{name}/suspend", f.setInstanceStatus("SUSPENDED"))
	mux.HandleFunc("POST "+computePrefix+"/zones/{zone}/instances/{name}/resume", f.setInstanceStatus("RUNNING"))
	mux.HandleFunc("GET "+computePrefix+"/zones/{zone}/networkEndpointGroups", f.listNetworkEndpointGroups)
	mux.HandleFunc("GET "+computePrefix+"/zones/{zone}/networkEndpointGroups/{name}", f.getNetworkEndpointGroup)
	mux.HandleFunc(
		"POST "+computePrefix+"/zones/{zone}/networkEndpointGroups/{name}/attachNetworkEndpoints",
		f.attachNetworkEndpoints,
	)
	mux.HandleFunc(
		"POST "+computePrefix+"/zones/{zone}/networkEndpointGroups/{name}/detachNetworkEndpoints",
		f.detachNetworkEndpoints,
	)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return &f
}

// ClientOptions points a compute client to the fake.
func (f *FakeCompute) ClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(f.server.URL),
		option.WithoutAuthentication(),
	}
}

// AddURLMap stores a url map, region is empty for global ones.
func (f *FakeCompute) AddURLMap(region string, um *computepb.UrlMap) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.urlMaps[scopeKey(region, um.GetName())] = proto.Clone(um).(*computepb.UrlMap)
}

func (f *FakeCompute) URLMap(region, name string) *computepb.UrlMap {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.urlMaps[scopeKey(region, name)]
}

func (f *FakeCompute) AddBackendService(region string, bs *computepb.BackendService, health map[string]*computepb.BackendServiceGroupHealth) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.backends[scopeKey(region, bs.GetName())] = bs

	for group, h := range health {
		f.health[group] = h
	}
}

func (f *FakeCompute) AddInstance(zone string, instance *computepb.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.instances[zone+"/"+instance.GetName()] = instance
}

func (f *FakeCompute) Instance(zone, name string) *computepb.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.instances[zone+"/"+name]
}

func (f *FakeCompute) AddNetworkEndpointGroup(zone string, neg *computepb.NetworkEndpointGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.negs[zone+"/"+neg.GetName()] = neg
}

func (f *FakeCompute) NetworkEndpoints(zone, neg string) []*computepb.NetworkEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.negEndpoints[zone+"/"+neg]
}

// Requests lists the method and path of the mutating requests received.
func (f *FakeCompute) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.requests...)
}

func (f *FakeCompute) listURLMaps(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		list   computepb.UrlMapList
		prefix = scopeKey(r.PathValue("region"), "")
	)

	for key, um := range f.urlMaps {
		if strings.HasPrefix(key, prefix) {
			list.Items = append(list.Items, um)
		}
	}

	sort.Slice(list.Items, func(i, j int) bool {
		return list.Items[i].GetName() < list.Items[j].GetName()
	})

	writeProto(rw, &list)
}

func (f *FakeCompute) getURLMap(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	um, ok := f.urlMaps[scopeKey(r.PathValue("region"), r.PathValue("name"))]
	if !ok {
		writeNotFound(rw, "urlMap", r.PathValue("name"))
		return
	}

	writeProto(rw, um)
}

func (f *FakeCompute) updateURLMap(rw http.ResponseWriter, r *http.Request) {
	var um computepb.UrlMap
	if !readProto(rw, r, &um) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := scopeKey(r.PathValue("region"), r.PathValue("name"))
	if _, ok := f.urlMaps[key]; !ok {
		writeNotFound(rw, "urlMap", r.PathValue("name"))
		return
	}

	f.urlMaps[key] = &um
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	writeProto(rw, f.startOperation("update"))
}

func (f *FakeCompute) getBackendService(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bs, ok := f.backends[scopeKey(r.PathValue("region"), r.PathValue("name"))]
	if !ok {
		writeNotFound(rw, "backendService", r.PathValue("name"))
		return
	}

	writeProto(rw, bs)
}

func (f *FakeCompute) getHealth(rw http.ResponseWriter, r *http.Request) {
	var ref computepb.ResourceGroupReference
	if !readProto(rw, r, &ref) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.health[ref.GetGroup()]
	if !ok {
		writeNotFound(rw, "group", ref.GetGroup())
		return
	}

	writeProto(rw, h)
}

func (f *FakeCompute) getInstance(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	instance, ok := f.instances[r.PathValue("zone")+"/"+r.PathValue("name")]
	if !ok {
		writeNotFound(rw, "instance", r.PathValue("name"))
		return
	}

	writeProto(rw, instance)
}

func (f *FakeCompute) setTags(rw http.ResponseWriter, r *http.Request) {
	var tags computepb.Tags
	if !readProto(rw, r, &tags) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	instance, ok := f.instances[r.PathValue("zone")+"/"+r.PathValue("name")]
	if !ok {
		writeNotFound(rw, "instance", r.PathValue("name"))
		return
	}

	if instance.GetTags().GetFingerprint() != tags.GetFingerprint() {
		writeError(rw, http.StatusPreconditionFailed, "fingerprint mismatch")
		return
	}

	f.operationCount++
	tags.Fingerprint = Ptr(fmt.Sprintf("fingerprint-%d", f.operationCount))
	instance.Tags = &tags
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	writeProto(rw, f.startOperation("setTags"))
}

func (f *FakeCompute) setInstanceStatus(status string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		instance, ok := f.instances[r.PathValue("zone")+"/"+r.PathValue("name")]
		if !ok {
			writeNotFound(rw, "instance", r.PathValue("name"))
			return
		}

		instance.Status = Ptr(status)
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)

		writeProto(rw, f.startOperation(status))
	}
}

func (f *FakeCompute) listNetworkEndpointGroups(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		list   computepb.NetworkEndpointGroupList
		prefix = r.PathValue("zone") + "/"
	)

	for _, key := range SortedKeys(f.negs) {
		if strings.HasPrefix(key, prefix) {
			list.Items = append(list.Items, f.negs[key])
		}
	}

	writeProto(rw, &list)
}

func (f *FakeCompute) getNetworkEndpointGroup(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	neg, ok := f.negs[r.PathValue("zone")+"/"+r.PathValue("name")]
	if !ok {
		writeNotFound(rw, "networkEndpointGroup", r.PathValue("name"))
		return
	}

	writeProto(rw, neg)
}

func (f *FakeCompute) attachNetworkEndpoints(rw http.ResponseWriter, r *http.Request) {
	var req computepb.NetworkEndpointGroupsAttachEndpointsRequest
	if !readProto(rw, r, &req) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.PathValue("zone") + "/" + r.PathValue("name")
	f.negEndpoints[key] = append(f.negEndpoints[key], req.GetNetworkEndpoints()...)
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	writeProto(rw, f.startOperation("attach"))
}

func (f *FakeCompute) detachNetworkEndpoints(rw http.ResponseWriter, r *http.Request) {
	var req computepb.NetworkEndpointGroupsDetachEndpointsRequest
	if !readProto(rw, r, &req) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		key  = r.PathValue("zone") + "/" + r.PathValue("name")
		kept []*computepb.NetworkEndpoint
	)

	for _, existing := range f.negEndpoints[key] {
		detached := false

		for _, ep := range req.GetNetworkEndpoints() {
			if proto.Equal(existing, ep) {
				detached = true
				break
			}
		}

		if !detached {
			kept = append(kept, existing)
		}
	}

	f.negEndpoints[key] = kept
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	writeProto(rw, f.startOperation("detach"))
}

func (f *FakeCompute) getOperation(rw http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := r.PathValue("name")

	remaining, ok := f.operations[name]
	if !ok {
		writeNotFound(rw, "operation", name)
		return
	}

	if remaining > 0 {
		remaining--
		f.operations[name] = remaining
	}

	op := computepb.Operation{Name: Ptr(name), Status: computepb.Operation_RUNNING.Enum()}
	if remaining == 0 {
		op.Status = computepb.Operation_DONE.Enum()
	}

	writeProto(rw, &op)
}

func (f *FakeCompute) startOperation(kind string) *computepb.Operation {
	f.operationCount++

	name := fmt.Sprintf("operation-%s-%d", kind, f.operationCount)
	f.operations[name] = f.PollsBeforeDone

	status := computepb.Operation_RUNNING
	if f.PollsBeforeDone == 0 {
		status = computepb.Operation_DONE
	}

	return &computepb.Operation{Name: Ptr(name), Status: status.Enum()}
}

func scopeKey(region, name string) string {
	if region == "" {
		return "global/" + name
	}

	return "regions/" + region + "/" + name
}

func readProto(rw http.ResponseWriter, r *http.Request, msg proto.Message) bool {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return false
	}

	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(raw, msg); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return false
	}

	return true
}

func writeProto(rw http.ResponseWriter, msg proto.Message) {
	raw, err := protojson.Marshal(msg)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	_, _ = rw.Write(raw)
}

func writeNotFound(rw http.ResponseWriter, kind, name string) {
	writeError(rw, http.StatusNotFound, fmt.Sprintf("The resource '%s/%s' was not found", kind, name))
}

func writeError(rw http.ResponseWriter, code int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_, _ = fmt.Fprintf(rw, `{"error":{"code":%d,"message":%q}}`, code, msg)
}
