package metadata

import "fmt"

// Field indices of the player entity that carry client-predicted state.
const (
	IndexEntityFlags FieldID = 0
	IndexAirTicks    FieldID = 1
	IndexCustomName  FieldID = 2
	IndexSilent      FieldID = 4
	IndexNoGravity   FieldID = 5
	IndexPose        FieldID = 6
	IndexFrozenTicks FieldID = 7
	IndexLivingFlags FieldID = 8
	IndexHealth      FieldID = 9
)

// Bits of the entity flags byte (IndexEntityFlags).
const (
	FlagOnFire           byte = 0x01
	FlagCrouching        byte = 0x02
	FlagSprinting        byte = 0x08
	FlagSwimming         byte = 0x10
	FlagInvisible        byte = 0x20
	FlagGlowing          byte = 0x40
	FlagFlyingWithElytra byte = 0x80
)

// Bits of the living entity flags byte (IndexLivingFlags).
const (
	LivingHandActive byte = 0x01
	LivingOffHand    byte = 0x02
	LivingSpinAttack byte = 0x04
)

// Pose is the entity pose enumeration carried by IndexPose.
type Pose int32

const (
	PoseStanding Pose = iota
	PoseFallFlying
	PoseSleeping
	PoseSwimming
	PoseSpinAttack
	PoseSneaking
	PoseLongJumping
	PoseDying
)

var poseNames = [...]string{
	PoseStanding:    "standing",
	PoseFallFlying:  "fall_flying",
	PoseSleeping:    "sleeping",
	PoseSwimming:    "swimming",
	PoseSpinAttack:  "spin_attack",
	PoseSneaking:    "sneaking",
	PoseLongJumping: "long_jumping",
	PoseDying:       "dying",
}

func (p Pose) String() string {
	if p >= 0 && int(p) < len(poseNames) {
		return poseNames[p]
	}
	return fmt.Sprintf("pose(%d)", int32(p))
}
