package bustest

import "sync"

// WriteBehaviorFunc decides the value a register actually latches when the
// host writes v to it. It lets tests model read-only or sticky bits.
type WriteBehaviorFunc func(reg, v byte) byte

// Device simulates an ST-style register file: the first written byte sets the
// register pointer, further written bytes are stored starting there, and reads
// return consecutive registers from the pointer (auto-increment).
type Device struct {
	mu       sync.Mutex
	regs     [256]byte
	ptr      byte
	behavior WriteBehaviorFunc

	reads  int
	writes int
}

// NewDevice creates a device with the given initial register contents.
func NewDevice(init map[byte]byte) *Device {
	d := &Device{}
	for reg, v := range init {
		d.regs[reg] = v
	}
	return d
}

// WithWriteBehavior installs a write behaviour and returns the device.
func (d *Device) WithWriteBehavior(fn WriteBehaviorFunc) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.behavior = fn
	return d
}

// Set stores consecutive values starting at reg, bypassing write behaviour.
func (d *Device) Set(reg byte, values ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range values {
		d.regs[reg+byte(i)] = v
	}
}

func (d *Device) Get(reg byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[reg]
}

// Counts returns how many register reads and writes the host performed.
func (d *Device) Counts() (reads, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes
}

func (d *Device) transfer(w, r []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w) > 0 {
		d.ptr = w[0]
		for _, v := range w[1:] {
			if d.behavior != nil {
				v = d.behavior(d.ptr, v)
			}
			d.regs[d.ptr] = v
			d.ptr++
			d.writes++
		}
	}
	for i := range r {
		r[i] = d.regs[d.ptr]
		d.ptr++
		d.reads++
	}
}
