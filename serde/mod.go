// Package serde defines the primitives to serialize and deserialize (serde)
// the messages exchanged between the key generators and the records stored on
// disk.
//
// A message does not know how it is encoded. It asks the format engine
// registered for the format of the context, which allows the same data model to
// travel with different encodings.
package serde

// Format is the identifier of an encoding format.
type Format string

// FormatJSON is the identifier of the JSON format.
const FormatJSON Format = "JSON"

// Message is the interface a data model implements to be serialized.
type Message interface {
	// Serialize returns the bytes of the message encoded with the format of
	// the context.
	Serialize(ctx Context) ([]byte, error)
}

// Factory is the interface to implement to instantiate a message from its
// encoded form.
type Factory interface {
	// Deserialize returns the message decoded from the data with the format
	// of the context.
	Deserialize(ctx Context, data []byte) (Message, error)
}

// FormatEngine is the interface a format implements to encode and decode the
// messages of a package.
type FormatEngine interface {
	Encode(ctx Context, message Message) ([]byte, error)

	Decode(ctx Context, data []byte) (Message, error)
}

// ContextEngine is the interface to implement to create a context.
type ContextEngine interface {
	// GetFormat returns the name of the format for this context.
	GetFormat() Format

	// Marshal returns the bytes of the message according to the format of the
	// context.
	Marshal(message interface{}) ([]byte, error)

	// Unmarshal populates the message with the data according to the format of
	// the context.
	Unmarshal(data []byte, message interface{}) error
}

// Context is the context passed to the serialization and deserialization
// requests.
type Context struct {
	ContextEngine
}

// NewContext returns a new context for the engine.
func NewContext(engine ContextEngine) Context {
	return Context{ContextEngine: engine}
}
