package ttl

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"armbus"
)

// Driver adapts the shared bus codec to one servo family's control table.
// It is stateless apart from the model table; the BusManager owns retry
// policy and motor identity.
type Driver struct {
	bus   *Bus
	model Model
}

// NewDriver builds the family driver for one model on a shared bus.
func NewDriver(bus *Bus, model Model) *Driver {
	return &Driver{bus: bus, model: model}
}

// NewFactory returns an armbus.DriverFactory serving the TTL families from
// one shared bus. Stepper requests are rejected; they live on the CAN bus.
func NewFactory(bus *Bus) armbus.DriverFactory {
	return func(t armbus.HardwareType) (armbus.Driver, error) {
		switch t {
		case armbus.HwXM430:
			return NewDriver(bus, XM430), nil
		case armbus.HwXL330:
			return NewDriver(bus, XL330), nil
		default:
			return nil, errors.Errorf("hardware type %s is not a TTL servo", t)
		}
	}
}

func (d *Driver) Ping(id uint8) error {
	return d.bus.Ping(id)
}

func (d *Driver) Scan() ([]uint8, error) {
	return d.bus.Scan()
}

func (d *Driver) Reboot(id uint8) error {
	return d.bus.Reboot(id)
}

func (d *Driver) ChangeID(oldID, newID uint8) error {
	if newID > maxServoID {
		return errors.Errorf("id %d out of range", newID)
	}
	r := d.model.IDRegister
	return d.bus.WriteRegister(oldID, r.Addr, r.Size, uint32(newID))
}

func (d *Driver) ReadFirmwareVersion(id uint8) (string, error) {
	major, err := d.bus.ReadRegister(id, d.model.FirmwareMajor.Addr, d.model.FirmwareMajor.Size)
	if err != nil {
		return "", err
	}
	minor, err := d.bus.ReadRegister(id, d.model.FirmwareMinor.Addr, d.model.FirmwareMinor.Size)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", major, minor), nil
}

func (d *Driver) ReadPosition(id uint8) (uint32, error) {
	r := d.model.PresentPosition
	return d.bus.ReadRegister(id, r.Addr, r.Size)
}

func (d *Driver) WritePositionGoal(id uint8, pos uint32) error {
	r := d.model.GoalPosition
	return d.bus.WriteRegister(id, r.Addr, r.Size, pos)
}

func (d *Driver) WriteVelocityGoal(id uint8, vel uint32) error {
	r := d.model.GoalVelocity
	return d.bus.WriteRegister(id, r.Addr, r.Size, vel)
}

func (d *Driver) WriteTorqueGoal(id uint8, torque uint32) error {
	r := d.model.GoalTorque
	return d.bus.WriteRegister(id, r.Addr, r.Size, torque)
}

func (d *Driver) WriteTorqueEnable(id uint8, enable uint32) error {
	r := d.model.TorqueEnable
	return d.bus.WriteRegister(id, r.Addr, r.Size, enable)
}

// WriteVelocityProfile sets the velocity then acceleration profile. A
// family without profile registers accepts and ignores the write.
func (d *Driver) WriteVelocityProfile(id uint8, profile []uint32) error {
	if !d.model.HasVelocityProfile {
		return nil
	}
	if len(profile) > 0 {
		r := d.model.ProfileVelocity
		if err := d.bus.WriteRegister(id, r.Addr, r.Size, profile[0]); err != nil {
			return err
		}
	}
	if len(profile) > 1 {
		r := d.model.ProfileAcceleration
		if err := d.bus.WriteRegister(id, r.Addr, r.Size, profile[1]); err != nil {
			return err
		}
	}
	return nil
}

// ReadVelocityProfile returns the velocity and acceleration profile. A
// family without profile registers has nothing to read.
func (d *Driver) ReadVelocityProfile(id uint8) ([]uint32, error) {
	if !d.model.HasVelocityProfile {
		return nil, errors.Wrapf(armbus.ErrNotSupported, "%s has no velocity profile", d.model.Name)
	}
	profile := make([]uint32, 0, 2)
	for _, r := range []register{d.model.ProfileVelocity, d.model.ProfileAcceleration} {
		v, err := d.bus.ReadRegister(id, r.Addr, r.Size)
		if err != nil {
			return nil, err
		}
		profile = append(profile, v)
	}
	return profile, nil
}

// ReadMotorPID returns the control gains in P, I, D, FF1, FF2 order.
func (d *Driver) ReadMotorPID(id uint8) ([]uint32, error) {
	gains := make([]uint32, 0, 5)
	for _, r := range []register{d.model.PGain, d.model.IGain, d.model.DGain, d.model.FF1Gain, d.model.FF2Gain} {
		v, err := d.bus.ReadRegister(id, r.Addr, r.Size)
		if err != nil {
			return nil, err
		}
		gains = append(gains, v)
	}
	return gains, nil
}

func (d *Driver) WritePGain(id uint8, gain uint32) error {
	r := d.model.PGain
	return d.bus.WriteRegister(id, r.Addr, r.Size, gain)
}

func (d *Driver) WriteIGain(id uint8, gain uint32) error {
	r := d.model.IGain
	return d.bus.WriteRegister(id, r.Addr, r.Size, gain)
}

func (d *Driver) WriteDGain(id uint8, gain uint32) error {
	r := d.model.DGain
	return d.bus.WriteRegister(id, r.Addr, r.Size, gain)
}

func (d *Driver) WriteFF1Gain(id uint8, gain uint32) error {
	r := d.model.FF1Gain
	return d.bus.WriteRegister(id, r.Addr, r.Size, gain)
}

func (d *Driver) WriteFF2Gain(id uint8, gain uint32) error {
	r := d.model.FF2Gain
	return d.bus.WriteRegister(id, r.Addr, r.Size, gain)
}

func (d *Driver) WriteLed(id uint8, value uint32) error {
	r := d.model.Led
	return d.bus.WriteRegister(id, r.Addr, r.Size, value)
}

// syncRead flattens the bus map into id order. Servos that stayed silent
// are simply absent, so the result may be shorter than ids.
func (d *Driver) syncRead(r register, ids []uint8) ([]uint32, error) {
	byID, err := d.bus.SyncRead(r.Addr, r.Size, ids)
	if err != nil {
		return nil, err
	}
	values := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}

func (d *Driver) SyncReadPosition(ids []uint8) ([]uint32, error) {
	return d.syncRead(d.model.PresentPosition, ids)
}

func (d *Driver) SyncReadVelocity(ids []uint8) ([]uint32, error) {
	return d.syncRead(d.model.PresentVelocity, ids)
}

func (d *Driver) SyncReadLoad(ids []uint8) ([]uint32, error) {
	return d.syncRead(d.model.PresentLoad, ids)
}

func (d *Driver) SyncReadTemperature(ids []uint8) ([]uint32, error) {
	return d.syncRead(d.model.PresentTemperature, ids)
}

func (d *Driver) SyncReadVoltage(ids []uint8) ([]uint32, error) {
	return d.syncRead(d.model.PresentVoltage, ids)
}

func (d *Driver) SyncReadHwError(ids []uint8) ([]uint32, error) {
	return d.syncRead(d.model.HwErrorStatus, ids)
}

func (d *Driver) SyncWritePositionGoal(ids []uint8, positions []uint32) error {
	r := d.model.GoalPosition
	return d.bus.SyncWrite(r.Addr, r.Size, ids, positions)
}

func (d *Driver) SyncWriteVelocityGoal(ids []uint8, velocities []uint32) error {
	r := d.model.GoalVelocity
	return d.bus.SyncWrite(r.Addr, r.Size, ids, velocities)
}

func (d *Driver) SyncWriteTorqueGoal(ids []uint8, torques []uint32) error {
	r := d.model.GoalTorque
	return d.bus.SyncWrite(r.Addr, r.Size, ids, torques)
}

func (d *Driver) SyncWriteTorqueEnable(ids []uint8, values []uint32) error {
	r := d.model.TorqueEnable
	return d.bus.SyncWrite(r.Addr, r.Size, ids, values)
}

func (d *Driver) SyncWriteLed(ids []uint8, values []uint32) error {
	r := d.model.Led
	return d.bus.SyncWrite(r.Addr, r.Size, ids, values)
}

func (d *Driver) ReadRegister(id uint8, addr uint16, size int) (uint32, error) {
	return d.bus.ReadRegister(id, byte(addr), size)
}

func (d *Driver) WriteRegister(id uint8, addr uint16, size int, value uint32) error {
	return d.bus.WriteRegister(id, byte(addr), size, value)
}

// InterpretErrorState renders the hardware-error bitfield as labels, empty
// when no bit is set.
func (d *Driver) InterpretErrorState(raw uint32) string {
	var labels []string
	for _, bit := range d.model.ErrorBits {
		if raw&bit.Mask != 0 {
			labels = append(labels, bit.Label)
		}
	}
	if len(labels) == 0 {
		return ""
	}
	return strings.Join(labels, ", ") + " Error"
}
