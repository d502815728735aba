package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// Audit actions.
const (
	ActionSignedIn          = "signed_in"
	ActionSignedOut         = "signed_out"
	ActionForcedSignOut     = "forced_sign_out"
	ActionTelegramLinked    = "telegram_linked"
	ActionTwitterLinked     = "twitter_linked"
	ActionTwitterFollowed   = "twitter_followed"
	ActionInstagramFollowed = "instagram_followed"
	ActionReferralSet       = "referral_set"
	ActionGenesisClaimed    = "genesis_claimed"
	ActionUserFlagged       = "user_flagged"
	ActionChainResync       = "chain_resync"
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actorUserId,omitempty"`
	ActorType   string     `json:"actorType"` // user/system
	Action      string     `json:"action"`
	EntityType  string     `json:"entityType"`
	EntityID    *uuid.UUID `json:"entityId,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
