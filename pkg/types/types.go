package types

import (
	"time"
)

// Project is the logical tenant that owns fleets, runs, instances, volumes,
// pools and SSH keys. Every child entity carries ProjectID; deletion is soft.
type Project struct {
	ID        string
	Name      string
	Deleted   bool
	CreatedAt time.Time
}

// BackendKind identifies which cloud (or SSH) adapter a Backend is bound to.
type BackendKind string

const (
	BackendAWS        BackendKind = "aws"
	BackendAzure      BackendKind = "azure"
	BackendGCP        BackendKind = "gcp"
	BackendDataCrunch BackendKind = "datacrunch"
	BackendLambda     BackendKind = "lambda"
	BackendLocal      BackendKind = "local"
	BackendNebius     BackendKind = "nebius"
	BackendTensorDock BackendKind = "tensordock"
	BackendVastAI     BackendKind = "vastai"
	BackendDstack     BackendKind = "dstack"
	BackendSSH        BackendKind = "ssh"
)

// Backend is a configured credential+region set bound to a project.
// Credentials are stored encrypted and are opaque to the reconcilers.
type Backend struct {
	ID                  string
	ProjectID           string
	Kind                BackendKind
	Regions             []string
	EncryptedCredential []byte // AES-256-GCM ciphertext, see pkg/security
	Deleted             bool
	CreatedAt           time.Time
}

// Pool is a grouping of instances within a project. Every project has a
// default pool; every instance belongs to exactly one pool.
type Pool struct {
	ID        string
	ProjectID string
	Name      string
	Default   bool
	Deleted   bool
	CreatedAt time.Time
}

// FleetPlacement constrains how a fleet's instances are laid out relative
// to each other.
type FleetPlacement string

const (
	PlacementAny     FleetPlacement = "any"
	PlacementCluster FleetPlacement = "cluster"
)

// SpotPolicy controls whether a fleet/job accepts spot, on-demand, or either.
type SpotPolicy string

const (
	SpotPolicyAuto     SpotPolicy = "auto"
	SpotPolicySpot     SpotPolicy = "spot"
	SpotPolicyOnDemand SpotPolicy = "on-demand"
)

// NodeRange bounds the number of instances a fleet maintains.
type NodeRange struct {
	Min int
	Max int // 0 means unbounded
}

// FleetSpec is the immutable-after-submit declaration of what a fleet wants.
type FleetSpec struct {
	Nodes              NodeRange
	Placement          FleetPlacement
	Resources          Requirements
	Backends           []BackendKind
	Regions            []string
	Spot               SpotPolicy
	MaxPrice           float64 // 0 = unset
	IdleDuration       time.Duration
	Reservation        string
	TerminationPolicy  TerminationPolicy
	TerminationIdleTTL time.Duration
}

// FleetStatus is the fleet's lifecycle state.
type FleetStatus string

const (
	FleetSubmitted  FleetStatus = "submitted"
	FleetActive     FleetStatus = "active"
	FleetTerminating FleetStatus = "terminating"
	FleetTerminated FleetStatus = "terminated"
	FleetFailed     FleetStatus = "failed"
)

// Fleet is a declared group of instances maintained to a target node count.
type Fleet struct {
	ID              string
	ProjectID       string
	Name            string
	Spec            FleetSpec
	Status          FleetStatus
	StatusMessage   string
	PlacementGroups map[string]string // (backend,region) key -> PlacementGroup.ID
	Deleted         bool
	LastProcessedAt time.Time
	CreatedAt       time.Time
}

// TerminationPolicy controls what happens to an idle instance.
type TerminationPolicy string

const (
	TerminationDestroyAfterIdle TerminationPolicy = "destroy_after_idle"
	TerminationDontDestroy      TerminationPolicy = "dont_destroy"
)

// InstanceStatus is the instance lifecycle state driven by the instance
// reconciler (see pkg/reconciler/instance.go).
type InstanceStatus string

const (
	InstancePending      InstanceStatus = "pending"
	InstanceProvisioning InstanceStatus = "provisioning"
	InstanceIdle         InstanceStatus = "idle"
	InstanceBusy         InstanceStatus = "busy"
	InstanceTerminating  InstanceStatus = "terminating"
	InstanceTerminated   InstanceStatus = "terminated"
)

// SharedInfo tracks an instance's sub-instance packing (blocks).
type SharedInfo struct {
	// TotalBlocksAuto is true when the spec requested "auto" sizing; once
	// resolved, TotalBlocks holds the concrete value and this flag stays set.
	TotalBlocksAuto bool
	TotalBlocks     int
	BusyBlocks      int
}

// JobProvisioningData is what a ComputeBackend returns after create_instance:
// the connection details needed to reach the host.
type JobProvisioningData struct {
	Hostname       string
	Port           int
	SSHUser        string
	SSHPort        int
	SSHProxyJump   string // optional bastion/proxy hostname
	InstanceID     string // backend-native instance identifier
	InternalIP     string
	PublicIP       string
	HostInfo       *HostInfo // populated once the shim/deploy step reports it
}

// HostInfo is the resource inventory reported by a host's first deploy
// cycle (SSH-attached instances) or by the backend at create time.
type HostInfo struct {
	CPUs        int
	MemoryBytes int64
	DiskBytes   int64
	GPUVendor   string
	GPUName     string
	GPUCount    int
}

// RemoteConnectionInfo describes how to reach an SSH-attached host that was
// never created through a ComputeBackend.
type RemoteConnectionInfo struct {
	Hostname string
	Port     int
	User     string
	SSHKey   string // path to the private key used to connect
}

// HealthStatus is the last known result of polling an instance's shim.
type HealthStatus struct {
	Healthy   bool
	Reason    string
	CheckedAt time.Time
}

// Instance is a compute host, cloud-provisioned or SSH-attached.
type Instance struct {
	ID                  string
	ProjectID           string
	PoolID              string
	FleetID             string // "" if not fleet-owned
	BatchID             string // correlates instances grown together in one cluster-placement batch
	BackendID           string
	Status              InstanceStatus
	StatusMessage       string
	Unreachable         bool
	SharedInfo          SharedInfo
	Offer               *InstanceOffer
	Price               float64
	JobProvisioningData *JobProvisioningData
	RemoteConnectionInfo *RemoteConnectionInfo
	BackendData         string // opaque backend-specific blob (e.g. async op name)

	TerminationPolicy    TerminationPolicy
	TerminationIdleTTL    time.Duration
	TerminationDeadline   *time.Time
	TerminationReason     string

	HealthStatus       *HealthStatus
	LastJobProcessedAt time.Time
	LastProcessedAt    time.Time

	Deleted    bool
	StartedAt  time.Time
	CreatedAt  time.Time
	FinishedAt time.Time
	DeletedAt  time.Time

	VolumeIDs []string

	// TerminateFirstAttemptAt tracks when the terminating→terminated retry
	// loop began, to enforce the 16-minute hard deadline.
	TerminateFirstAttemptAt *time.Time
}

// ResidualBlocks returns how many of the instance's blocks are unassigned.
func (i *Instance) ResidualBlocks() int {
	if i.SharedInfo.TotalBlocks <= 0 {
		return 0
	}
	return i.SharedInfo.TotalBlocks - i.SharedInfo.BusyBlocks
}

// RunStatus is the run lifecycle state, a composition of its Jobs' statuses
// (see pkg/reconciler/run.go).
type RunStatus string

const (
	RunSubmitted   RunStatus = "submitted"
	RunPending     RunStatus = "pending"
	RunProvisioning RunStatus = "provisioning"
	RunStarting    RunStatus = "starting"
	RunRunning     RunStatus = "running"
	RunTerminating RunStatus = "terminating"
	RunTerminated  RunStatus = "terminated"
	RunDone        RunStatus = "done"
	RunFailed      RunStatus = "failed"
	RunAborted     RunStatus = "aborted"
)

// RetryPolicy controls whether a Run's failed Jobs are retried.
type RetryPolicy struct {
	Retry    bool
	Duration time.Duration // window after submission during which retries are permitted
	OnEvents []JobTerminationReason
}

// DefaultRetryWindow is the window within which interrupted_by_no_capacity
// failures are retried.
const DefaultRetryWindow = 3 * time.Minute

// Resolve fills in defaults for the `retry: true` shorthand.
func (p RetryPolicy) Resolve() RetryPolicy {
	if p.Retry && p.Duration == 0 {
		p.Duration = DefaultRetryWindow
	}
	if p.Retry && len(p.OnEvents) == 0 {
		p.OnEvents = []JobTerminationReason{ReasonInterruptedByNoCapacity}
	}
	return p
}

// Permits reports whether the policy allows a retry for the given reason at
// the given elapsed time since the run was submitted.
func (p RetryPolicy) Permits(reason JobTerminationReason, elapsed time.Duration) bool {
	p = p.Resolve()
	if !p.Retry {
		return false
	}
	if elapsed > p.Duration {
		return false
	}
	for _, r := range p.OnEvents {
		if r == reason {
			return true
		}
	}
	return false
}

// RunSpec is immutable once a run is submitted.
type RunSpec struct {
	Name        string
	Nodes       int
	Replicas    int
	JobSpec     JobSpec
	Requirements Requirements
	Profile     Profile
	Retry       RetryPolicy
	FleetID     string // "" to let the run provision its own instances
}

// Run is a user-submitted workload composed of one or more Jobs.
type Run struct {
	ID                 string
	ProjectID          string
	Spec               RunSpec
	Status             RunStatus
	StatusMessage      string
	SubmittedAt        time.Time
	ProcessingFinished bool
	StopRequested      bool // set by the user-facing stop operation; cascades to every Job
	Jobs               []*Job // ordered by (JobNum, ReplicaNum, SubmissionNum)
	LastProcessedAt    time.Time
}

// JobStatus is the job lifecycle state (one execution attempt of one
// (node, replica) slot of a run).
type JobStatus string

const (
	JobSubmitted    JobStatus = "submitted"
	JobProvisioning JobStatus = "provisioning"
	JobPulling      JobStatus = "pulling"
	JobRunning      JobStatus = "running"
	JobTerminating  JobStatus = "terminating"
	JobTerminated   JobStatus = "terminated"
	JobAborted      JobStatus = "aborted"
	JobFailed       JobStatus = "failed"
	JobDone         JobStatus = "done"
)

// JobTerminationReason classifies why a job stopped.
type JobTerminationReason string

const (
	ReasonInterruptedByNoCapacity    JobTerminationReason = "interrupted_by_no_capacity"
	ReasonFailedToStart              JobTerminationReason = "failed_to_start"
	ReasonContainerExitedWithError   JobTerminationReason = "container_exited_with_error"
	ReasonScalingDown                JobTerminationReason = "scaling_down"
	ReasonAborted                    JobTerminationReason = "aborted"
	ReasonTerminatedByUser           JobTerminationReason = "terminated_by_user"
	ReasonMaxDurationExceeded        JobTerminationReason = "max_duration_exceeded"
)

// JobSpec is what the run declares a job should execute.
type JobSpec struct {
	Image       string
	Commands    []string
	Env         map[string]string
	Ports       []PortRequest
	MaxDuration time.Duration // 0 = unbounded
}

// PortRequest is a declared container port and the host mapping it wants.
// HostPort == 0 means "auto" (see pkg/placement.AllocatePorts).
type PortRequest struct {
	ContainerPort int
	HostPort      int
}

// JobRuntimeData is computed at placement time: the concrete resource
// shares and port mapping chosen on the instance.
type JobRuntimeData struct {
	CPUs        float64
	GPUs        int
	MemoryBytes int64
	Ports       map[int]int // declared container port -> host port
	VolumeIDs   []string
}

// Job is one execution attempt of one (node, replica) slot of a Run.
type Job struct {
	ID                  string
	RunID               string
	ProjectID           string
	JobNum              int
	ReplicaNum          int
	SubmissionNum       int
	Status              JobStatus
	StatusMessage       string
	JobSpec             JobSpec
	JobProvisioningData *JobProvisioningData
	JobRuntimeData      *JobRuntimeData
	InstanceID          string
	InstanceAssigned    bool
	TerminationReason   JobTerminationReason
	LastProcessedAt     time.Time
	SubmittedAt         time.Time
	StartedAt           time.Time
	FinishedAt          time.Time
}

// Volume, PlacementGroup, Gateway and RepoCreds mirror the Instance state
// machine (submitted -> active -> terminating -> terminated) but are owned
// by sibling reconcilers not implemented here; only the fields the
// core reconcilers read or write are modeled here.

type VolumeStatus string

const (
	VolumeSubmitted   VolumeStatus = "submitted"
	VolumeActive      VolumeStatus = "active"
	VolumeTerminating VolumeStatus = "terminating"
	VolumeTerminated  VolumeStatus = "terminated"
)

// Volume is persistent storage that may be attached to an instance.
type Volume struct {
	ID          string
	ProjectID   string
	Name        string
	BackendID   string
	Region      string
	SizeBytes   int64
	Status      VolumeStatus
	InstanceID  string // "" if unattached
	Deleted     bool
	CreatedAt   time.Time
}

// PlacementGroup is the backend-native grouping construct used to colocate
// a fleet's cluster-placement instances.
type PlacementGroup struct {
	ID         string
	FleetID    string
	BackendID  string
	Region     string
	BackendRef string // backend-native placement group identifier
	Deleted    bool
	CreatedAt  time.Time
}

// Gateway fronts a run's exposed ports; managed by a sibling reconciler,
// referenced by ID only.
type Gateway struct {
	ID        string
	ProjectID string
	Name      string
	Status    string
	Deleted   bool
}

// RepoCreds holds encrypted credentials for pulling a run's source repo.
type RepoCreds struct {
	ID                  string
	ProjectID           string
	EncryptedCredential []byte
}
