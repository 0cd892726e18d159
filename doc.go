/*
Package graph is the core of a media streaming pipeline runtime.

Concept

A pipeline is built out of independent processing stages called filters.
Filters expose connection endpoints called pins. Two pins are connected by
negotiating a media type, the value that describes the format flowing across
the connection. Data moves between pins in reference counted buffers which
are handed out by a pooled allocator shared by both ends of the connection.

    reader.AsyncReader -> pull.Pump -> render.AudioSink

The reader turns a synchronous backing store into a request/reply pipeline.
The pump is the graph-driving thread: it acquires buffers, asks the reader to
fill them and pushes them downstream. The sink drains buffers into a double
buffered audio device and blocks the pump while the device is busy.

Lifecycle

Every filter has the same state machine:

    Stopped <-> Paused <-> Running

Moving from Stopped to Paused allocates resources, moving from Paused to
Running starts streaming. The transitions are guarded: while one is in
progress, every other call receives ErrTransitionInProgress instead of
blocking.

Package layout

This package holds the values shared by every component: media types, wave
formats, the codec registry, the event sink contract and the error taxonomy.
Components live in sub-packages: pool, filter, reader, render, pull.
*/
package graph
