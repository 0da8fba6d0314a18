// Package packets is the catalogue of typed packets the gateway speaks.
// Each type lists its fields in wire order; the registry in registry.go
// binds them to ids and encodings.
package packets

import "github.com/danmuck/blockgate/internal/protocol"

// Handshake opens every connection and selects the next state.
type Handshake struct {
	ProtocolVersion uint32
	ServerAddress   string
	ServerPort      uint16
	NextState       uint32
}

func (*Handshake) PacketName() string { return "Handshake" }

func (p *Handshake) FieldValues() []any {
	return []any{p.ProtocolVersion, p.ServerAddress, p.ServerPort, p.NextState}
}

func (p *Handshake) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.ProtocolVersion, &p.ServerAddress, &p.ServerPort, &p.NextState)
}

type LoginStart struct {
	Name string
}

func (*LoginStart) PacketName() string   { return "LoginStart" }
func (p *LoginStart) FieldValues() []any { return []any{p.Name} }
func (p *LoginStart) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.Name)
}

// SetCompression announces the threshold both sides switch to.
type SetCompression struct {
	Threshold uint32
}

func (*SetCompression) PacketName() string   { return "SetCompression" }
func (p *SetCompression) FieldValues() []any { return []any{p.Threshold} }
func (p *SetCompression) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.Threshold)
}

type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) PacketName() string   { return "LoginDisconnect" }
func (p *LoginDisconnect) FieldValues() []any { return []any{p.Reason} }
func (p *LoginDisconnect) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.Reason)
}

// JoinGame is the first play-state packet sent to a player.
type JoinGame struct {
	EntityID         int32
	GameMode         uint8
	Dimension        int32
	MaxPlayers       uint8
	LevelType        string
	ViewDistance     uint32
	ReducedDebugInfo bool
}

func (*JoinGame) PacketName() string { return "JoinGame" }

func (p *JoinGame) FieldValues() []any {
	return []any{p.EntityID, p.GameMode, p.Dimension, p.MaxPlayers, p.LevelType, p.ViewDistance, p.ReducedDebugInfo}
}

func (p *JoinGame) SetFieldValues(values []any) error {
	return protocol.Scan(values,
		&p.EntityID, &p.GameMode, &p.Dimension, &p.MaxPlayers,
		&p.LevelType, &p.ViewDistance, &p.ReducedDebugInfo)
}

type CollectItem struct {
	CollectedEntityID uint32
	CollectorEntityID uint32
	PickupItemCount   uint32
}

func (*CollectItem) PacketName() string { return "CollectItem" }

func (p *CollectItem) FieldValues() []any {
	return []any{p.CollectedEntityID, p.CollectorEntityID, p.PickupItemCount}
}

func (p *CollectItem) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.CollectedEntityID, &p.CollectorEntityID, &p.PickupItemCount)
}

type KeepAlive struct {
	KeepAliveID int64
}

func (*KeepAlive) PacketName() string   { return "KeepAlive" }
func (p *KeepAlive) FieldValues() []any { return []any{p.KeepAliveID} }
func (p *KeepAlive) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.KeepAliveID)
}

// KeepAliveReply is the serverbound echo of KeepAlive.
type KeepAliveReply struct {
	KeepAliveID int64
}

func (*KeepAliveReply) PacketName() string   { return "KeepAliveReply" }
func (p *KeepAliveReply) FieldValues() []any { return []any{p.KeepAliveID} }
func (p *KeepAliveReply) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.KeepAliveID)
}

type Disconnect struct {
	Reason string
}

func (*Disconnect) PacketName() string   { return "Disconnect" }
func (p *Disconnect) FieldValues() []any { return []any{p.Reason} }
func (p *Disconnect) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.Reason)
}

type SpawnPosition struct {
	Location protocol.Position
}

func (*SpawnPosition) PacketName() string   { return "SpawnPosition" }
func (p *SpawnPosition) FieldValues() []any { return []any{p.Location} }
func (p *SpawnPosition) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.Location)
}

type SetSlot struct {
	WindowID uint8
	Slot     int16
	Data     protocol.Slot
}

func (*SetSlot) PacketName() string   { return "SetSlot" }
func (p *SetSlot) FieldValues() []any { return []any{p.WindowID, p.Slot, p.Data} }
func (p *SetSlot) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.WindowID, &p.Slot, &p.Data)
}

type PlayerPositionAndLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      uint8
	TeleportID uint32
}

func (*PlayerPositionAndLook) PacketName() string { return "PlayerPositionAndLook" }

func (p *PlayerPositionAndLook) FieldValues() []any {
	return []any{p.X, p.Y, p.Z, p.Yaw, p.Pitch, p.Flags, p.TeleportID}
}

func (p *PlayerPositionAndLook) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.X, &p.Y, &p.Z, &p.Yaw, &p.Pitch, &p.Flags, &p.TeleportID)
}

// PluginMessage carries an opaque channel payload that runs to the end of
// the packet.
type PluginMessage struct {
	Channel string
	Data    []byte
}

func (*PluginMessage) PacketName() string   { return "PluginMessage" }
func (p *PluginMessage) FieldValues() []any { return []any{p.Channel, p.Data} }
func (p *PluginMessage) SetFieldValues(values []any) error {
	return protocol.Scan(values, &p.Channel, &p.Data)
}
