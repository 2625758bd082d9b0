package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/compute/apiv1/computepb"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"cloud.google.com/go/run/apiv2/runpb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/jlevesy/chaosgcp/cloudbuild"
	"github.com/jlevesy/chaosgcp/cloudlogging"
	"github.com/jlevesy/chaosgcp/cloudrun"
	"github.com/jlevesy/chaosgcp/compute"
	"github.com/jlevesy/chaosgcp/dns"
	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/gke/nodepool"
	"github.com/jlevesy/chaosgcp/lb"
	"github.com/jlevesy/chaosgcp/monitoring"
	"github.com/jlevesy/chaosgcp/sql"
)

// Func runs one activity out of its JSON encoded arguments.
type Func func(ctx context.Context, s *Session, args json.RawMessage) (any, error)

type UnknownActivityError string

func (u UnknownActivityError) Error() string {
	return fmt.Sprintf("unknown activity %q", string(u))
}

var registry = map[string]Func{
	"inject_traffic_delay":                  injectTrafficDelay,
	"inject_traffic_faults":                 injectTrafficFaults,
	"remove_fault_injection_traffic_policy": removeFaultInjection,
	"describe_fault_injection_policy":       describeFaultInjection,
	"get_backend_service_health":            getBackendServiceHealth,
	"create_new_nodepool":                   createNodePool,
	"delete_nodepool":                       deleteNodePool,
	"resize_nodepool":                       resizeNodePool,
	"rollback_nodepool":                     rollbackNodePool,
	"swap_nodepool":                         swapNodePool,
	"list_nodepools":                        listNodePools,
	"describe_nodepool":                     describeNodePool,
	"trigger_failover":                      triggerFailover,
	"export_data":                           exportData,
	"disable_replication":                   disableReplication,
	"enable_replication":                    enableReplication,
	"promote_replica":                       promoteReplica,
	"list_instances":                        listSQLInstances,
	"describe_instance":                     describeSQLInstance,
	"create_service":                        createService,
	"delete_service":                        deleteService,
	"update_service":                        updateService,
	"get_service":                           getService,
	"list_services":                         listServices,
	"list_service_revisions":                listServiceRevisions,
	"run_trigger":                           runTrigger,
	"list_triggers":                         listTriggers,
	"list_trigger_names":                    listTriggerNames,
	"get_trigger":                           getTrigger,
	"set_instance_tags":                     setInstanceTags,
	"suspend_instance":                      suspendInstance,
	"resume_instance":                       resumeInstance,
	"attach_network_endpoint_group":         attachNetworkEndpointGroup,
	"detach_network_endpoint_group":         detachNetworkEndpointGroup,
	"get_network_endpoint_group":            getNetworkEndpointGroup,
	"list_network_endpoint_groups":          listNetworkEndpointGroups,
	"object_exists":                         objectExists,
	"update_dns_a_record":                   updateDNSARecord,
	"get_logs_between_timestamps":           getLogsBetweenTimestamps,
	"get_metrics":                           getMetrics,
	"run_mql_query":                         runMQLQuery,
	"query_time_series":                     queryTimeSeries,
	"get_slo_health":                        getSLOHealth,
	"get_slo_burn_rate":                     getSLOBurnRate,
	"get_slo_budget":                        getSLOBudget,
	"valid_slo_ratio_during_window":         validSLORatioDuringWindow,
}

// Names lists the registered activities.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Run looks up the activity called name and runs it with args. The
// project_id and region arguments, accepted by every activity, override the
// session context for this call. API documents are returned as maps keyed
// with their snake_case field names.
func Run(ctx context.Context, s *Session, name string, args json.RawMessage) (any, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, UnknownActivityError(name)
	}

	args, projectID, region, err := splitOverrides(args)
	if err != nil {
		return nil, err
	}

	s = s.withOverrides(projectID, region)

	s.logger.Debug("Running activity", zap.String("activity", name))

	result, err := fn(ctx, s, args)
	if err != nil {
		return nil, err
	}

	if msg, ok := result.(proto.Message); ok {
		if !msg.ProtoReflect().IsValid() {
			return nil, nil
		}

		return gcp.ToDict(msg)
	}

	return result, nil
}

func toDicts[T proto.Message](items []T) ([]map[string]any, error) {
	dicts := make([]map[string]any, 0, len(items))

	for _, item := range items {
		dict, err := gcp.ToDict(item)
		if err != nil {
			return nil, err
		}

		dicts = append(dicts, dict)
	}

	return dicts, nil
}

type lbArgs struct {
	URL        string  `json:"url"`
	URLMap     string  `json:"url_map"`
	TargetName string  `json:"target_name"`
	TargetPath string  `json:"target_path"`
	Regional   bool    `json:"regional"`
	Percentage float64 `json:"impacted_percentage"`
	Seconds    int64   `json:"delay_in_seconds"`
	Nanos      int32   `json:"delay_in_nanos"`
	HTTPStatus uint32  `json:"http_status"`
}

func (l lbArgs) target() lb.Target {
	return lb.Target{
		URLMap:      l.URLMap,
		PathMatcher: l.TargetName,
		Path:        l.TargetPath,
		Regional:    l.Regional,
	}
}

func decodeLBArgs(raw json.RawMessage) (lbArgs, error) {
	args := lbArgs{
		Percentage: lb.DefaultPercentage,
		Seconds:    lb.DefaultDelaySeconds,
		HTTPStatus: lb.DefaultHTTPStatus,
	}

	if err := decodeArgs(raw, &args); err != nil {
		return lbArgs{}, err
	}

	return args, nil
}

func withLB(ctx context.Context, s *Session, fn func(*lb.Actions) (any, error)) (any, error) {
	actions, closeActions, err := s.LoadBalancer(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = closeActions() }()

	return fn(actions)
}

func injectTrafficDelay(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	args, err := decodeLBArgs(raw)
	if err != nil {
		return nil, err
	}

	delay := lb.Delay{Seconds: args.Seconds, Nanos: args.Nanos}

	return withLB(ctx, s, func(a *lb.Actions) (any, error) {
		if args.URL != "" {
			return a.InjectTrafficDelayForURL(ctx, args.URL, args.Percentage, delay)
		}

		return a.InjectTrafficDelay(ctx, args.target(), args.Percentage, delay)
	})
}

func injectTrafficFaults(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	args, err := decodeLBArgs(raw)
	if err != nil {
		return nil, err
	}

	return withLB(ctx, s, func(a *lb.Actions) (any, error) {
		if args.URL != "" {
			return a.InjectTrafficFaultsForURL(ctx, args.URL, args.Percentage, args.HTTPStatus)
		}

		return a.InjectTrafficFaults(ctx, args.target(), args.Percentage, args.HTTPStatus)
	})
}

func removeFaultInjection(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	args, err := decodeLBArgs(raw)
	if err != nil {
		return nil, err
	}

	return withLB(ctx, s, func(a *lb.Actions) (any, error) {
		if args.URL != "" {
			return a.RemoveFaultInjectionForURL(ctx, args.URL)
		}

		return a.RemoveFaultInjectionTrafficPolicy(ctx, args.target())
	})
}

func describeFaultInjection(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	args, err := decodeLBArgs(raw)
	if err != nil {
		return nil, err
	}

	return withLB(ctx, s, func(a *lb.Actions) (any, error) {
		return a.DescribeFaultInjectionPolicy(ctx, args.target())
	})
}

func getBackendServiceHealth(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var args struct {
		BackendService string `json:"backend_service"`
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	health, err := s.BackendHealth(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = health.Close() }()

	return health.GetBackendServiceHealth(ctx, args.BackendService, s.callRegion)
}

type nodePoolArgs struct {
	Parent       string         `json:"parent"`
	NodePoolID   string         `json:"node_pool_id"`
	Body         map[string]any `json:"body"`
	NewBody      map[string]any `json:"new_nodepool_body"`
	PoolSize     int32          `json:"pool_size"`
	DeleteOld    bool           `json:"delete_old_node_pool"`
	OldNodePool  string         `json:"old_node_pool_id"`
	DrainTimeout seconds        `json:"drain_timeout"`
	Wait         *bool          `json:"wait_until_complete"`
}

func (n nodePoolArgs) wait() bool {
	return n.Wait == nil || *n.Wait
}

func withNodePools(ctx context.Context, s *Session, raw json.RawMessage, fn func(*nodepool.Actions, nodePoolArgs) (any, error)) (any, error) {
	args := nodePoolArgs{PoolSize: 1}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	actions, closeActions, err := s.NodePools(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = closeActions() }()

	return fn(actions, args)
}

func createNodePool(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withNodePools(ctx, s, raw, func(a *nodepool.Actions, args nodePoolArgs) (any, error) {
		return a.Create(ctx, args.Parent, args.Body, args.wait())
	})
}

func deleteNodePool(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withNodePools(ctx, s, raw, func(a *nodepool.Actions, args nodePoolArgs) (any, error) {
		return a.Delete(ctx, args.Parent, args.NodePoolID, args.wait())
	})
}

func resizeNodePool(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withNodePools(ctx, s, raw, func(a *nodepool.Actions, args nodePoolArgs) (any, error) {
		return a.Resize(ctx, args.Parent, args.NodePoolID, args.PoolSize, args.wait())
	})
}

func rollbackNodePool(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withNodePools(ctx, s, raw, func(a *nodepool.Actions, args nodePoolArgs) (any, error) {
		return a.Rollback(ctx, args.Parent, args.NodePoolID, args.wait())
	})
}

func swapNodePool(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withNodePools(ctx, s, raw, func(a *nodepool.Actions, args nodePoolArgs) (any, error) {
		return a.Swap(ctx, nodepool.SwapRequest{
			Parent:        args.Parent,
			OldNodePoolID: args.OldNodePool,
			NewNodePool:   args.NewBody,
			DeleteOld:     args.DeleteOld,
			DrainTimeout:  time.Duration(args.DrainTimeout),
			Wait:          args.wait(),
		})
	})
}

func listNodePools(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withNodePools(ctx, s, raw, func(a *nodepool.Actions, args nodePoolArgs) (any, error) {
		pools, err := a.List(ctx, args.Parent)
		if err != nil {
			return nil, err
		}

		return toDicts(pools)
	})
}

func describeNodePool(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withNodePools(ctx, s, raw, func(a *nodepool.Actions, args nodePoolArgs) (any, error) {
		return a.Get(ctx, args.Parent, args.NodePoolID)
	})
}

type sqlArgs struct {
	Instance        string   `json:"instance_id"`
	Replica         string   `json:"replica_name"`
	SettingsVersion int64    `json:"settings_version"`
	StorageURI      string   `json:"storage_uri"`
	FileType        string   `json:"file_type"`
	Databases       []string `json:"databases"`
	Tables          []string `json:"tables"`
	SchemaOnly      bool     `json:"export_schema_only"`
	SelectQuery     string   `json:"select_query"`
	Wait            bool     `json:"wait_until_complete"`
}

func withSQL(ctx context.Context, s *Session, raw json.RawMessage, fn func(*sql.Actions, sqlArgs) (any, error)) (any, error) {
	args := sqlArgs{Wait: true}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	actions, err := s.SQL(ctx)
	if err != nil {
		return nil, err
	}

	return fn(actions, args)
}

func triggerFailover(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSQL(ctx, s, raw, func(a *sql.Actions, args sqlArgs) (any, error) {
		return a.TriggerFailover(ctx, args.Instance, args.SettingsVersion, args.Wait)
	})
}

func exportData(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSQL(ctx, s, raw, func(a *sql.Actions, args sqlArgs) (any, error) {
		return a.ExportData(
			ctx,
			sql.ExportRequest{
				Instance:    args.Instance,
				StorageURI:  args.StorageURI,
				FileType:    args.FileType,
				Databases:   args.Databases,
				Tables:      args.Tables,
				SchemaOnly:  args.SchemaOnly,
				SelectQuery: args.SelectQuery,
			},
			args.Wait,
		)
	})
}

func disableReplication(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSQL(ctx, s, raw, func(a *sql.Actions, args sqlArgs) (any, error) {
		return a.DisableReplication(ctx, args.Replica, args.Wait)
	})
}

func enableReplication(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSQL(ctx, s, raw, func(a *sql.Actions, args sqlArgs) (any, error) {
		return a.EnableReplication(ctx, args.Replica, args.Wait)
	})
}

func promoteReplica(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSQL(ctx, s, raw, func(a *sql.Actions, args sqlArgs) (any, error) {
		return a.PromoteReplica(ctx, args.Replica, args.Wait)
	})
}

func listSQLInstances(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSQL(ctx, s, raw, func(a *sql.Actions, _ sqlArgs) (any, error) {
		return a.ListInstances(ctx)
	})
}

func describeSQLInstance(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSQL(ctx, s, raw, func(a *sql.Actions, args sqlArgs) (any, error) {
		return a.DescribeInstance(ctx, args.Instance)
	})
}

type trafficTarget struct {
	Type     int32  `json:"type_"`
	Revision string `json:"revision"`
	Percent  int32  `json:"percent"`
	Tag      string `json:"tag"`
}

type serviceArgs struct {
	Parent                        string            `json:"parent"`
	Name                          string            `json:"name"`
	ServiceID                     string            `json:"service_id"`
	Container                     map[string]any    `json:"container"`
	Description                   string            `json:"description"`
	MaxInstanceRequestConcurrency int32             `json:"max_instance_request_concurrency"`
	ServiceAccount                string            `json:"service_account"`
	EncryptionKey                 string            `json:"encryption_key"`
	Traffic                       []trafficTarget   `json:"traffic"`
	Labels                        map[string]string `json:"labels"`
	Annotations                   map[string]string `json:"annotations"`
	VPCAccessConfig               map[string]any    `json:"vpc_access_config"`
}

// service is the service the call targets: parent holds its full path,
// name its bare name.
func (a serviceArgs) service() string {
	if a.Parent != "" {
		return a.Parent
	}

	return a.Name
}

func (a serviceArgs) spec() cloudrun.ServiceSpec {
	traffic := make([]*runpb.TrafficTarget, 0, len(a.Traffic))

	for _, target := range a.Traffic {
		tt := runpb.TrafficTarget{
			Type:     runpb.TrafficTargetAllocationType(target.Type),
			Revision: target.Revision,
			Percent:  target.Percent,
			Tag:      target.Tag,
		}

		if tt.Type == runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_UNSPECIFIED {
			tt.Type = runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_LATEST

			if target.Revision != "" {
				tt.Type = runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION
			}
		}

		traffic = append(traffic, &tt)
	}

	return cloudrun.ServiceSpec{
		Description:                   a.Description,
		Container:                     a.Container,
		MaxInstanceRequestConcurrency: a.MaxInstanceRequestConcurrency,
		ServiceAccount:                a.ServiceAccount,
		EncryptionKey:                 a.EncryptionKey,
		Traffic:                       traffic,
		Labels:                        a.Labels,
		Annotations:                   a.Annotations,
		VPCAccess:                     a.VPCAccessConfig,
	}
}

func withCloudRun(ctx context.Context, s *Session, raw json.RawMessage, fn func(*cloudrun.Actions, serviceArgs) (any, error)) (any, error) {
	var args serviceArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	actions, closeActions, err := s.CloudRun(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = closeActions() }()

	return fn(actions, args)
}

func createService(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudRun(ctx, s, raw, func(a *cloudrun.Actions, args serviceArgs) (any, error) {
		return a.CreateService(ctx, args.Parent, args.ServiceID, args.spec())
	})
}

func deleteService(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudRun(ctx, s, raw, func(a *cloudrun.Actions, args serviceArgs) (any, error) {
		return a.DeleteService(ctx, args.service())
	})
}

func updateService(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudRun(ctx, s, raw, func(a *cloudrun.Actions, args serviceArgs) (any, error) {
		return a.UpdateService(ctx, args.service(), args.spec())
	})
}

func getService(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudRun(ctx, s, raw, func(a *cloudrun.Actions, args serviceArgs) (any, error) {
		return a.GetService(ctx, args.service())
	})
}

func listServices(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudRun(ctx, s, raw, func(a *cloudrun.Actions, args serviceArgs) (any, error) {
		services, err := a.ListServices(ctx, args.Parent)
		if err != nil {
			return nil, err
		}

		return toDicts(services)
	})
}

func listServiceRevisions(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudRun(ctx, s, raw, func(a *cloudrun.Actions, args serviceArgs) (any, error) {
		revisions, err := a.ListServiceRevisions(ctx, args.service())
		if err != nil {
			return nil, err
		}

		return toDicts(revisions)
	})
}

type triggerArgs struct {
	Name   string         `json:"name"`
	Source map[string]any `json:"source"`
	Wait   bool           `json:"wait_until_complete"`
}

func withCloudBuild(ctx context.Context, s *Session, raw json.RawMessage, fn func(*cloudbuild.Actions, triggerArgs) (any, error)) (any, error) {
	var args triggerArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	actions, closeActions, err := s.CloudBuild(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = closeActions() }()

	return fn(actions, args)
}

func runTrigger(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudBuild(ctx, s, raw, func(a *cloudbuild.Actions, args triggerArgs) (any, error) {
		return a.RunTrigger(ctx, args.Name, args.Source, args.Wait)
	})
}

func listTriggers(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudBuild(ctx, s, raw, func(a *cloudbuild.Actions, _ triggerArgs) (any, error) {
		triggers, err := a.ListTriggers(ctx)
		if err != nil {
			return nil, err
		}

		return toDicts(triggers)
	})
}

func listTriggerNames(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudBuild(ctx, s, raw, func(a *cloudbuild.Actions, _ triggerArgs) (any, error) {
		return a.ListTriggerNames(ctx)
	})
}

func getTrigger(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCloudBuild(ctx, s, raw, func(a *cloudbuild.Actions, args triggerArgs) (any, error) {
		return a.GetTrigger(ctx, args.Name)
	})
}

type computeArgs struct {
	Zone      string           `json:"zone"`
	Instance  string           `json:"instance_name"`
	Tags      []string         `json:"tags_list"`
	NEG       string           `json:"network_endpoint_group"`
	Endpoints []map[string]any `json:"endpoints"`
}

func (c computeArgs) endpoints() ([]*computepb.NetworkEndpoint, error) {
	endpoints := make([]*computepb.NetworkEndpoint, 0, len(c.Endpoints))

	for _, dict := range c.Endpoints {
		var endpoint computepb.NetworkEndpoint
		if err := gcp.FromDict(dict, &endpoint); err != nil {
			return nil, gcp.ActivityFailed(fmt.Sprintf("invalid network endpoint: %s", err))
		}

		endpoints = append(endpoints, &endpoint)
	}

	return endpoints, nil
}

func withCompute(ctx context.Context, s *Session, raw json.RawMessage, fn func(*compute.Actions, computeArgs) (any, error)) (any, error) {
	var args computeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	actions, err := s.Compute(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = actions.Close() }()

	return fn(actions, args)
}

func setInstanceTags(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCompute(ctx, s, raw, func(a *compute.Actions, args computeArgs) (any, error) {
		return a.SetInstanceTags(ctx, args.Zone, args.Instance, args.Tags)
	})
}

func suspendInstance(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCompute(ctx, s, raw, func(a *compute.Actions, args computeArgs) (any, error) {
		return nil, a.SuspendInstance(ctx, args.Zone, args.Instance)
	})
}

func resumeInstance(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCompute(ctx, s, raw, func(a *compute.Actions, args computeArgs) (any, error) {
		return nil, a.ResumeInstance(ctx, args.Zone, args.Instance)
	})
}

func attachNetworkEndpointGroup(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCompute(ctx, s, raw, func(a *compute.Actions, args computeArgs) (any, error) {
		endpoints, err := args.endpoints()
		if err != nil {
			return nil, err
		}

		return nil, a.AttachNetworkEndpoints(ctx, args.Zone, args.NEG, endpoints)
	})
}

func detachNetworkEndpointGroup(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCompute(ctx, s, raw, func(a *compute.Actions, args computeArgs) (any, error) {
		endpoints, err := args.endpoints()
		if err != nil {
			return nil, err
		}

		return nil, a.DetachNetworkEndpoints(ctx, args.Zone, args.NEG, endpoints)
	})
}

func getNetworkEndpointGroup(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCompute(ctx, s, raw, func(a *compute.Actions, args computeArgs) (any, error) {
		return a.GetNetworkEndpointGroup(ctx, args.Zone, args.NEG)
	})
}

func listNetworkEndpointGroups(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withCompute(ctx, s, raw, func(a *compute.Actions, args computeArgs) (any, error) {
		negs, err := a.ListNetworkEndpointGroups(ctx, args.Zone)
		if err != nil {
			return nil, err
		}

		return toDicts(negs)
	})
}

func objectExists(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var args struct {
		Bucket string `json:"bucket_name"`
		Object string `json:"object_name"`
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	probes, err := s.Storage(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = probes.Close() }()

	return probes.ObjectExists(ctx, args.Bucket, args.Object)
}

const recordSetKind = "dns#resourceRecordSet"

func updateDNSARecord(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	args := struct {
		Project      string `json:"project"`
		Zone         string `json:"zone_name"`
		Name         string `json:"name"`
		IPAddress    string `json:"ip_address"`
		Kind         string `json:"kind"`
		TTL          int64  `json:"ttl"`
		RecordType   string `json:"record_type"`
		ExistingType string `json:"existing_type"`
	}{
		Kind: recordSetKind,
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	if args.Kind != recordSetKind {
		return nil, gcp.ActivityFailed(fmt.Sprintf("unsupported record kind %q", args.Kind))
	}

	records, err := s.withOverrides(args.Project, "").DNS(ctx)
	if err != nil {
		return nil, err
	}

	return records.UpdateARecord(ctx, dns.ARecordUpdate{
		Zone:         args.Zone,
		Name:         args.Name,
		IPAddress:    args.IPAddress,
		TTL:          args.TTL,
		RecordType:   args.RecordType,
		ExistingType: args.ExistingType,
	})
}

func getLogsBetweenTimestamps(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var args struct {
		LogName string `json:"log_name"`
		Filter  string `json:"filter"`
		EndTime string `json:"end_time"`
		Window  string `json:"window"`
		OrderBy string `json:"order_by"`
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	probes, err := s.Logging(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = probes.Close() }()

	return probes.GetLogsBetweenTimestamps(ctx, cloudlogging.Query{
		LogName: args.LogName,
		Filter:  args.Filter,
		EndTime: args.EndTime,
		Window:  args.Window,
		Order:   args.OrderBy,
	})
}

func withMonitoring(ctx context.Context, s *Session, fn func(*monitoring.Reader) (any, error)) (any, error) {
	reader, err := s.Monitoring(ctx)
	if err != nil {
		return nil, err
	}

	defer func() { _ = reader.Close() }()

	return fn(reader)
}

func getMetrics(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	args := struct {
		MetricType     string       `json:"metric_type"`
		MetricLabels   labelFilters `json:"metric_labels_filters"`
		ResourceLabels labelFilters `json:"resource_labels_filters"`
		EndTime        string       `json:"end_time"`
		Window         string       `json:"window"`
		Aligner        int32        `json:"aligner"`
		AlignerMinutes int          `json:"aligner_minutes"`
		Reducer        int32        `json:"reducer"`
		ReducerGroupBy []string     `json:"reducer_group_by"`
	}{
		AlignerMinutes: 1,
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	return withMonitoring(ctx, s, func(p *monitoring.Reader) (any, error) {
		series, err := p.GetMetrics(ctx, monitoring.MetricsQuery{
			MetricType:     args.MetricType,
			MetricLabels:   args.MetricLabels,
			ResourceLabels: args.ResourceLabels,
			EndTime:        args.EndTime,
			Window:         args.Window,
			Aligner:        monitoringpb.Aggregation_Aligner(args.Aligner),
			AlignerMinutes: args.AlignerMinutes,
			Reducer:        monitoringpb.Aggregation_Reducer(args.Reducer),
			ReducerGroupBy: args.ReducerGroupBy,
		})
		if err != nil {
			return nil, err
		}

		return toDicts(series)
	})
}

func runMQLQuery(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var args struct {
		Project string `json:"project"`
		MQL     string `json:"mql"`
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	return withMonitoring(ctx, s, func(p *monitoring.Reader) (any, error) {
		data, err := p.RunMQLQuery(ctx, args.Project, args.MQL)
		if err != nil {
			return nil, err
		}

		return toDicts(data)
	})
}

func queryTimeSeries(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	var args struct {
		MQL string `json:"mql_query"`
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	return withMonitoring(ctx, s, func(p *monitoring.Reader) (any, error) {
		data, err := p.QueryTimeSeries(ctx, args.MQL)
		if err != nil {
			return nil, err
		}

		return toDicts(data)
	})
}

type sloArgs struct {
	Name               string    `json:"name"`
	EndTime            string    `json:"end_time"`
	Window             string    `json:"window"`
	AlignmentPeriod    seconds   `json:"alignment_period"`
	PerSeriesAligner   string    `json:"per_series_aligner"`
	CrossSeriesReducer string    `json:"cross_series_reducer"`
	GroupByFields      fieldList `json:"group_by_fields"`
	LoopbackPeriod     string    `json:"loopback_period"`
	ExpectedRatio      float64   `json:"expected_ratio"`
	MinLevel           float64   `json:"min_level"`
}

func (a sloArgs) query() monitoring.SLOQuery {
	return monitoring.SLOQuery{
		Name:               a.Name,
		EndTime:            a.EndTime,
		Window:             a.Window,
		AlignmentPeriod:    time.Duration(a.AlignmentPeriod),
		PerSeriesAligner:   a.PerSeriesAligner,
		CrossSeriesReducer: a.CrossSeriesReducer,
		GroupByFields:      a.GroupByFields,
		LookbackPeriod:     a.LoopbackPeriod,
	}
}

func withSLO(ctx context.Context, s *Session, raw json.RawMessage, fn func(*monitoring.Reader, sloArgs) (any, error)) (any, error) {
	args := sloArgs{
		ExpectedRatio: 0.9,
		MinLevel:      0.9,
	}

	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	return withMonitoring(ctx, s, func(p *monitoring.Reader) (any, error) {
		return fn(p, args)
	})
}

func getSLOHealth(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSLO(ctx, s, raw, func(p *monitoring.Reader, args sloArgs) (any, error) {
		series, err := p.GetSLOHealth(ctx, args.query())
		if err != nil {
			return nil, err
		}

		return toDicts(series)
	})
}

func getSLOBurnRate(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSLO(ctx, s, raw, func(p *monitoring.Reader, args sloArgs) (any, error) {
		series, err := p.GetSLOBurnRate(ctx, args.query())
		if err != nil {
			return nil, err
		}

		return toDicts(series)
	})
}

func getSLOBudget(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSLO(ctx, s, raw, func(p *monitoring.Reader, args sloArgs) (any, error) {
		series, err := p.GetSLOBudget(ctx, args.query())
		if err != nil {
			return nil, err
		}

		return toDicts(series)
	})
}

func validSLORatioDuringWindow(ctx context.Context, s *Session, raw json.RawMessage) (any, error) {
	return withSLO(ctx, s, raw, func(p *monitoring.Reader, args sloArgs) (any, error) {
		return p.ValidSLORatioDuringWindow(ctx, args.query(), args.ExpectedRatio, args.MinLevel)
	})
}
