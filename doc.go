// Package compositor is a real-time GPU compositing and playback engine
// for timeline editors. It composites a stack of video and image layers
// into a fixed-resolution frame on the GPU and fans the result out to
// any number of presentation surfaces, driven by a fixed-rate render
// loop.
//
// The engine is single-threaded: all GPU work happens on the
// goroutine that calls Engine methods (or the internal render loop once
// Start is called). Layer updates from other goroutines go through
// SetLayers, which is the one safe cross-goroutine entry point.
package compositor
