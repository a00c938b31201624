package deltasig

// rollingChecksum implements the classic rsync weak checksum described in
// https://rsync.samba.org/tech_report/node3.html: a pair of running sums
// (alpha, beta) combined into a single 32-bit value, updatable in O(1) as
// the window slides one byte at a time.
type rollingChecksum struct {
	alpha, beta uint32
	length      uint32
	firstByte   uint32 // first byte of the window the checksum currently covers
}

const rollingMod = 1 << 16

// reset initializes the checksum over window, the first block-sized slice
// the scan will consider.
func (r *rollingChecksum) reset(window []byte) {
	var alpha, beta uint32
	n := uint32(len(window))
	for i, b := range window {
		v := uint32(b)
		alpha += v
		beta += (n - uint32(i)) * v
	}
	r.alpha = alpha % rollingMod
	r.beta = beta % rollingMod
	r.length = n
	if n > 0 {
		r.firstByte = uint32(window[0])
	}
}

// value returns the combined weak checksum for the current window.
func (r *rollingChecksum) value() uint32 {
	return r.alpha + rollingMod*r.beta
}

// roll advances the window by one byte: leaving is the byte leaving the
// window (its old first byte) and entering is the byte newly appended at
// the window's tail.
func (r *rollingChecksum) roll(leaving, entering byte) {
	l := uint32(leaving)
	e := uint32(entering)
	r.alpha = (r.alpha - l + e) % rollingMod
	r.beta = (r.beta - r.length*l + r.alpha) % rollingMod
	r.firstByte = e
}
