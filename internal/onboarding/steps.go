package onboarding

import "github.com/vmcc-dao/backend/internal/session"

// Onboarding steps, in wizard order.
const (
	StepWalletConnected   = "wallet-connected"
	StepJoinTelegram      = "join-telegram"
	StepFollowUs          = "follow-us"
	StepEnterReferralCode = "enter-referral-code"
	StepClaimGenesisKey   = "claim-genesis-key"
	StepJoinVMCCDAO       = "join-vmcc-dao"
)

var Steps = []string{
	StepWalletConnected,
	StepJoinTelegram,
	StepFollowUs,
	StepEnterReferralCode,
	StepClaimGenesisKey,
	StepJoinVMCCDAO,
}

// Progress is the slice of the user's state the router looks at.
type Progress struct {
	GenesisClaimed  bool
	UplineID        *int64
	TelegramJoined  bool
	TwitterFollowed bool
	// TwitterVerified: username, followed flag, post link and id all present.
	TwitterVerified bool
}

func FromRecord(r *session.Record) Progress {
	if r == nil {
		return Progress{}
	}
	return Progress{
		GenesisClaimed:  r.GenesisClaimed,
		UplineID:        r.UplineID,
		TelegramJoined:  r.TelegramJoined,
		TwitterFollowed: r.TwitterFollowed,
		TwitterVerified: r.TwitterVerified(),
	}
}

// NextStep picks the step to deep-link to. First matching rule wins.
func NextStep(p Progress) string {
	switch {
	case p.GenesisClaimed:
		return StepJoinVMCCDAO
	case p.UplineID != nil:
		if !p.TelegramJoined {
			return StepJoinTelegram
		}
		if !p.TwitterVerified {
			return StepFollowUs
		}
		return StepClaimGenesisKey
	case p.TwitterFollowed:
		if !p.TelegramJoined {
			return StepJoinTelegram
		}
		return StepEnterReferralCode
	case p.TelegramJoined:
		return StepFollowUs
	default:
		return StepWalletConnected
	}
}

func IsStep(s string) bool {
	for _, st := range Steps {
		if st == s {
			return true
		}
	}
	return false
}
