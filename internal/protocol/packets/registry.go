package packets

import (
	"sync"

	"github.com/danmuck/blockgate/internal/protocol"
	"github.com/danmuck/blockgate/internal/protocol/schema"
)

// Packet ids. Ids are unique per direction and state only.
const (
	IDHandshake = 0x00

	IDLoginStart      = 0x00
	IDLoginDisconnect = 0x00
	IDSetCompression  = 0x03

	IDKeepAliveReply        = 0x0B
	IDSetSlot               = 0x16
	IDPluginMessage         = 0x18
	IDDisconnect            = 0x1A
	IDKeepAlive             = 0x1F
	IDJoinGame              = 0x25
	IDPlayerPositionAndLook = 0x2F
	IDSpawnPosition         = 0x46
	IDCollectItem           = 0x55
)

func field(name string, kind protocol.Kind) schema.FieldSpec {
	return schema.FieldSpec{Name: name, Kind: kind}
}

// Entries returns the catalogue's schema declarations.
func Entries() []schema.Entry {
	return []schema.Entry{
		{
			Name: "Handshake", Direction: schema.Serverbound, State: schema.Handshaking, ID: IDHandshake,
			Fields: []schema.FieldSpec{
				field("ProtocolVersion", protocol.KindVarInt),
				field("ServerAddress", protocol.KindString),
				field("ServerPort", protocol.KindUShort),
				field("NextState", protocol.KindVarInt),
			},
			New: func() schema.Packet { return &Handshake{} },
		},
		{
			Name: "LoginStart", Direction: schema.Serverbound, State: schema.Login, ID: IDLoginStart,
			Fields: []schema.FieldSpec{field("Name", protocol.KindString)},
			New:    func() schema.Packet { return &LoginStart{} },
		},
		{
			Name: "LoginDisconnect", Direction: schema.Clientbound, State: schema.Login, ID: IDLoginDisconnect,
			Fields: []schema.FieldSpec{field("Reason", protocol.KindString)},
			New:    func() schema.Packet { return &LoginDisconnect{} },
		},
		{
			Name: "SetCompression", Direction: schema.Clientbound, State: schema.Login, ID: IDSetCompression,
			Fields: []schema.FieldSpec{field("Threshold", protocol.KindVarInt)},
			New:    func() schema.Packet { return &SetCompression{} },
		},
		{
			Name: "KeepAliveReply", Direction: schema.Serverbound, State: schema.Play, ID: IDKeepAliveReply,
			Fields: []schema.FieldSpec{field("KeepAliveID", protocol.KindLong)},
			New:    func() schema.Packet { return &KeepAliveReply{} },
		},
		{
			Name: "SetSlot", Direction: schema.Clientbound, State: schema.Play, ID: IDSetSlot,
			Fields: []schema.FieldSpec{
				field("WindowID", protocol.KindByte),
				field("Slot", protocol.KindShort),
				field("Data", protocol.KindSlot),
			},
			New: func() schema.Packet { return &SetSlot{} },
		},
		{
			Name: "PluginMessage", Direction: schema.Clientbound, State: schema.Play, ID: IDPluginMessage,
			Fields: []schema.FieldSpec{
				field("Channel", protocol.KindString),
				field("Data", protocol.KindRemaining),
			},
			New: func() schema.Packet { return &PluginMessage{} },
		},
		{
			Name: "Disconnect", Direction: schema.Clientbound, State: schema.Play, ID: IDDisconnect,
			Fields: []schema.FieldSpec{field("Reason", protocol.KindString)},
			New:    func() schema.Packet { return &Disconnect{} },
		},
		{
			Name: "KeepAlive", Direction: schema.Clientbound, State: schema.Play, ID: IDKeepAlive,
			Fields: []schema.FieldSpec{field("KeepAliveID", protocol.KindLong)},
			New:    func() schema.Packet { return &KeepAlive{} },
		},
		{
			Name: "JoinGame", Direction: schema.Clientbound, State: schema.Play, ID: IDJoinGame,
			Fields: []schema.FieldSpec{
				field("EntityID", protocol.KindInt),
				field("GameMode", protocol.KindByte),
				field("Dimension", protocol.KindInt),
				field("MaxPlayers", protocol.KindByte),
				field("LevelType", protocol.KindString),
				field("ViewDistance", protocol.KindVarInt),
				field("ReducedDebugInfo", protocol.KindBoolean),
			},
			New: func() schema.Packet { return &JoinGame{} },
		},
		{
			Name: "PlayerPositionAndLook", Direction: schema.Clientbound, State: schema.Play, ID: IDPlayerPositionAndLook,
			Fields: []schema.FieldSpec{
				field("X", protocol.KindDouble),
				field("Y", protocol.KindDouble),
				field("Z", protocol.KindDouble),
				field("Yaw", protocol.KindFloat),
				field("Pitch", protocol.KindFloat),
				field("Flags", protocol.KindByte),
				field("TeleportID", protocol.KindVarInt),
			},
			New: func() schema.Packet { return &PlayerPositionAndLook{} },
		},
		{
			Name: "SpawnPosition", Direction: schema.Clientbound, State: schema.Play, ID: IDSpawnPosition,
			Fields: []schema.FieldSpec{field("Location", protocol.KindPosition)},
			New:    func() schema.Packet { return &SpawnPosition{} },
		},
		{
			Name: "CollectItem", Direction: schema.Clientbound, State: schema.Play, ID: IDCollectItem,
			Fields: []schema.FieldSpec{
				field("CollectedEntityID", protocol.KindVarInt),
				field("CollectorEntityID", protocol.KindVarInt),
				field("PickupItemCount", protocol.KindVarInt),
			},
			New: func() schema.Packet { return &CollectItem{} },
		},
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *schema.Registry
)

// Registry returns the shared registry built from Entries.
func Registry() *schema.Registry {
	defaultOnce.Do(func() {
		defaultRegistry = schema.MustNew(Entries()...)
	})
	return defaultRegistry
}
