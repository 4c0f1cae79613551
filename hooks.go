package imgcache

// Stage names where a fill gave up.
type Stage string

const (
	StageDiskRead  Stage = "disk_read"
	StageDiskWrite Stage = "disk_write"
	StageNetwork   Stage = "network"
	StageDecode    Stage = "decode"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The loader calls them on hot paths.
type Hooks interface {
	MemoryHit(key string)
	DiskHit(key string)
	// A disk miss (or disabled disk) went to the origin.
	NetworkFetch(key, url string)

	// A fill ended without an object. err is one of *TransportError,
	// *DecodeError, *WriteConflictError or a disk error.
	FillFailed(key string, stage Stage, err error)

	// A result was dropped because the consumer was re-tagged meanwhile.
	StaleDropped(key, requestKey, currentTag string)

	// Another fill held the disk editor for key.
	WriteConflict(key string)

	// The disk tier is off for the Loader's lifetime.
	DiskDisabled(dir string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) MemoryHit(string)                    {}
func (NopHooks) DiskHit(string)                      {}
func (NopHooks) NetworkFetch(string, string)         {}
func (NopHooks) FillFailed(string, Stage, error)     {}
func (NopHooks) StaleDropped(string, string, string) {}
func (NopHooks) WriteConflict(string)                {}
func (NopHooks) DiskDisabled(string, error)          {}
