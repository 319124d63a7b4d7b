// Package transport moves raw bytes between the daemon and one projector.
//
// A Transport is a byte stream (serial line, USB-serial adapter or TCP
// socket) with a Framer that splits the incoming stream into frames:
//
//	t, err := transport.Dialer{}.Open(ctx, endpoint, framer)
//	if err != nil {
//	    // errors.Is(err, transport.ErrConnection)
//	}
//	defer t.Close()
//
//	if err := t.Write(frame); err != nil {
//	    // errors.Is(err, transport.ErrIO)
//	}
//	reply, err := t.ReadFrame() // blocks until a whole frame or link failure
//
// Framing is pluggable: LengthField covers binary protocols with a length
// byte in a fixed header, Delimiter covers line-oriented ASCII protocols.
//
// Thread Safety:
//   - One goroutine may Write while another ReadFrames.
//   - Close may be called from any goroutine, any number of times, and
//     unblocks a pending ReadFrame.
package transport
