// Package projector maps named projector controls onto raw device commands.
//
// A profile file describes each projector family as a set of controls
// (power, eco, volume...). Every control may define an up and a down
// command and a status query whose reply is decoded into a bool or a
// number:
//
//	profiles:
//	  binary-serial:
//	    controls:
//	      volume:
//	        requires_power: true
//	        up: "06 14 00 04 00 34 14 01 00"
//	        status: {frame: "07 14 00 05 00 34 00 00 14 03", decode: u8, offset: 7}
//
// Frames hold the opcode byte and the payload. Checksums and framing are
// left to the device class codec, so the same profile works over serial
// and TCP.
//
// The Catalog can watch its file and swap in a new profile set when it
// changes; a file that fails validation is logged and ignored.
package projector
