package armbus

import (
	"fmt"
	"sort"
	"strings"
)

// CmdKind selects the register family a command targets.
type CmdKind int

const (
	CmdPosition CmdKind = iota + 1
	CmdVelocity
	CmdEffort
	CmdTorqueEnable
	CmdPing
	CmdPGain
	CmdIGain
	CmdDGain
	CmdFF1Gain
	CmdFF2Gain
	CmdLed
	CmdRelativeMove
	CmdMicroSteps
	CmdMaxEffort
)

func (k CmdKind) String() string {
	switch k {
	case CmdPosition:
		return "position"
	case CmdVelocity:
		return "velocity"
	case CmdEffort:
		return "effort"
	case CmdTorqueEnable:
		return "torque_enable"
	case CmdPing:
		return "ping"
	case CmdPGain:
		return "p_gain"
	case CmdIGain:
		return "i_gain"
	case CmdDGain:
		return "d_gain"
	case CmdFF1Gain:
		return "ff1_gain"
	case CmdFF2Gain:
		return "ff2_gain"
	case CmdLed:
		return "led"
	case CmdRelativeMove:
		return "relative_move"
	case CmdMicroSteps:
		return "micro_steps"
	case CmdMaxEffort:
		return "max_effort"
	default:
		return "unknown"
	}
}

// SingleCmd targets one motor. Commands are transient: created by a caller,
// consumed by one write cycle, then discarded.
type SingleCmd struct {
	ID     uint8
	Kind   CmdKind
	Params []int32
}

// IsValid rejects commands with no target or missing parameters. Ping needs
// no parameter, relative move needs two (steps, step delay).
func (c SingleCmd) IsValid() bool {
	if c.ID == 0 || c.Kind == 0 {
		return false
	}
	switch c.Kind {
	case CmdPing:
		return true
	case CmdRelativeMove:
		return len(c.Params) >= 2
	default:
		return len(c.Params) >= 1
	}
}

// Param returns the first scalar parameter, zero if absent.
func (c SingleCmd) Param() int32 {
	if len(c.Params) == 0 {
		return 0
	}
	return c.Params[0]
}

func (c SingleCmd) String() string {
	return fmt.Sprintf("single cmd %s for motor %d, params %v", c.Kind, c.ID, c.Params)
}

type syncTargets struct {
	ids    []uint8
	params []uint32
}

// SyncCmd targets many motors in one synchronized transaction per family.
// Targets are grouped by hardware family because a sync write is only
// atomic within one family's transaction.
type SyncCmd struct {
	Kind    CmdKind
	targets map[HardwareType]*syncTargets
}

// NewSyncCmd creates an empty synchronized command of the given kind.
func NewSyncCmd(kind CmdKind) *SyncCmd {
	return &SyncCmd{
		Kind:    kind,
		targets: make(map[HardwareType]*syncTargets),
	}
}

// AddTarget appends one (id, param) pair to the family's parallel arrays.
func (c *SyncCmd) AddTarget(t HardwareType, id uint8, param uint32) {
	st, ok := c.targets[t]
	if !ok {
		st = &syncTargets{}
		c.targets[t] = st
	}
	st.ids = append(st.ids, id)
	st.params = append(st.params, param)
}

// Types lists the families this command touches, in stable order.
func (c *SyncCmd) Types() []HardwareType {
	types := make([]HardwareType, 0, len(c.targets))
	for t := range c.targets {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// MotorIDs returns the target ids for one family.
func (c *SyncCmd) MotorIDs(t HardwareType) []uint8 {
	if st, ok := c.targets[t]; ok {
		return st.ids
	}
	return nil
}

// Params returns the parameters for one family, parallel to MotorIDs.
func (c *SyncCmd) Params(t HardwareType) []uint32 {
	if st, ok := c.targets[t]; ok {
		return st.params
	}
	return nil
}

// IsValid requires at least one target and matched id/param lengths.
func (c *SyncCmd) IsValid() bool {
	if c == nil || c.Kind == 0 || len(c.targets) == 0 {
		return false
	}
	for _, st := range c.targets {
		if len(st.ids) == 0 || len(st.ids) != len(st.params) {
			return false
		}
	}
	return true
}

func (c *SyncCmd) String() string {
	var parts []string
	for _, t := range c.Types() {
		parts = append(parts, fmt.Sprintf("%s ids %v params %v", t, c.MotorIDs(t), c.Params(t)))
	}
	return fmt.Sprintf("sync cmd %s: %s", c.Kind, strings.Join(parts, "; "))
}

// JointCmd is one (id, native position) pair of a trajectory tick.
type JointCmd struct {
	ID       uint8
	Position uint32
}
