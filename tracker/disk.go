package tracker

import (
	"fmt"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
)

type diskRecording struct {
	buffer int32
	node   int32
}

// diskBufferFrames is the size of the ring buffer the server streams to disk
// from. It must be a multiple of the server's block size.
const diskBufferFrames = 65536

// LoadSample reads a sound file into buffer and asks the server for its
// size. Sampler instruments play the buffer named in their Buffer field.
func (p *Player) LoadSample(buffer int32, path string) {
	op := fmt.Sprintf("load sample %q", path)
	p.warn(op, p.backend.LoadBuffer(buffer, path))
	p.warn(op, p.backend.QueryBuffer(buffer))
}

// LoadSamples loads the sample file of every sampler instrument that names
// one.
func (p *Player) LoadSamples() {
	for _, instr := range p.session.Instruments {
		if instr.Source == imbolc.SourceSampler && instr.Sample != "" {
			p.LoadSample(instr.Buffer, instr.Sample)
		}
	}
}

// FreeSample releases a buffer loaded with LoadSample.
func (p *Player) FreeSample(buffer int32) {
	p.warn(fmt.Sprintf("free sample %d", buffer), p.backend.FreeBuffer(buffer))
}

// StartRecording streams the main output into a new wav file at path, using
// buffer as the disk buffer. A recording already running is stopped first.
func (p *Player) StartRecording(buffer int32, path string) {
	p.StopRecording()
	op := fmt.Sprintf("start recording %q", path)
	rec := &diskRecording{buffer: buffer, node: p.nodes.mint()}
	p.warn(op, p.backend.AllocBuffer(buffer, diskBufferFrames, 2))
	p.warn(op, p.backend.OpenBuffer(buffer, path))
	// at the tail of the default group, after the root group
	p.warn(op, p.backend.CreateSynth(synthDefDisk, rec.node, DefaultGroup, []imbolc.Param{
		imbolc.P("buf", float32(buffer)),
		imbolc.P("in", 0),
	}))
	p.recording = rec
}

// StopRecording stops a running recording and closes its file. It does
// nothing when not recording.
func (p *Player) StopRecording() {
	rec := p.recording
	if rec == nil {
		return
	}
	p.recording = nil
	p.warn("stop recording", p.backend.FreeNode(rec.node))
	p.warn("stop recording", p.backend.CloseBuffer(rec.buffer))
	p.warn("stop recording", p.backend.FreeBuffer(rec.buffer))
}

func (p *Player) Recording() bool { return p.recording != nil }
