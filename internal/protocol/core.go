package protocol

import "github.com/danmuck/wlproto/internal/protocol/wire"

// DisplayID is the id of the root object on every connection.
const DisplayID uint32 = 1

// wl_display opcodes.
const (
	DisplaySync        uint16 = 0
	DisplayGetRegistry uint16 = 1

	DisplayEventError    uint16 = 0
	DisplayEventDeleteID uint16 = 1
)

// wl_display.error codes.
const (
	ErrorInvalidObject  uint32 = 0
	ErrorInvalidMethod  uint32 = 1
	ErrorNoMemory       uint32 = 2
	ErrorImplementation uint32 = 3
)

// wl_registry opcodes.
const (
	RegistryBind uint16 = 0

	RegistryEventGlobal       uint16 = 0
	RegistryEventGlobalRemove uint16 = 1
)

// CallbackEventDone is the only wl_callback event.
const CallbackEventDone uint16 = 0

var CallbackInterface = &wire.Interface{
	Name:    "wl_callback",
	Version: 1,
	Events: []wire.MessageDesc{
		{Name: "done", Destructor: true, Args: wire.Signature{
			{Name: "callback_data", Type: wire.ArgUint},
		}},
	},
}

var RegistryInterface = &wire.Interface{
	Name:    "wl_registry",
	Version: 1,
	Requests: []wire.MessageDesc{
		{Name: "bind", Args: wire.Signature{
			{Name: "name", Type: wire.ArgUint},
			{Name: "id", Type: wire.ArgNewID},
		}},
	},
	Events: []wire.MessageDesc{
		{Name: "global", Args: wire.Signature{
			{Name: "name", Type: wire.ArgUint},
			{Name: "interface", Type: wire.ArgString},
			{Name: "version", Type: wire.ArgUint},
		}},
		{Name: "global_remove", Args: wire.Signature{
			{Name: "name", Type: wire.ArgUint},
		}},
	},
}

var DisplayInterface = &wire.Interface{
	Name:    "wl_display",
	Version: 1,
	Requests: []wire.MessageDesc{
		{Name: "sync", Args: wire.Signature{
			{Name: "callback", Type: wire.ArgNewID, Interface: CallbackInterface},
		}},
		{Name: "get_registry", Args: wire.Signature{
			{Name: "registry", Type: wire.ArgNewID, Interface: RegistryInterface},
		}},
	},
	Events: []wire.MessageDesc{
		{Name: "error", Args: wire.Signature{
			{Name: "object_id", Type: wire.ArgObject},
			{Name: "code", Type: wire.ArgUint},
			{Name: "message", Type: wire.ArgString},
		}},
		{Name: "delete_id", Args: wire.Signature{
			{Name: "id", Type: wire.ArgUint},
		}},
	},
}

// CoreInterfaces lists the descriptors above by name.
func CoreInterfaces() map[string]*wire.Interface {
	return map[string]*wire.Interface{
		DisplayInterface.Name:  DisplayInterface,
		RegistryInterface.Name: RegistryInterface,
		CallbackInterface.Name: CallbackInterface,
	}
}
