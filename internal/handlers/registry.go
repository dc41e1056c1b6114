package handlers

import "github.com/stakemint/sagad/pkg/api"

// NewRegistry builds the step-kind handler table once at startup. The
// router dispatches through this map; there is no runtime lookup by
// name anywhere
func NewRegistry(deps *Deps) api.Registry {
	return api.Registry{
		api.StepInit:          api.HandlerFunc(initHandler),
		api.StepAllocateNonce: api.HandlerFunc(deps.allocateNonce),
		api.StepSubmitTx:      deps.submitter(ParamSignedTx, ParamTxHash),
		api.StepCheckTx:       api.HandlerFunc(deps.checkTx),

		api.StepVerifyDevice:   api.HandlerFunc(verifyDevice),
		api.StepRegisterDevice: api.HandlerFunc(registerDevice),
		api.StepVerifySession:  api.HandlerFunc(verifySession),
		api.StepGrantToken:     api.HandlerFunc(grantToken),

		api.StepCreateEconomy: api.HandlerFunc(createEconomy),
		api.StepDeployRegistry: deps.submitter(
			ParamRegistryTx, ParamRegistryTxHash,
		),
		api.StepFundTreasury: deps.submitter(
			ParamTreasuryTx, ParamTreasuryTxHash,
		),

		api.StepStakeTokens: deps.submitter(ParamStakeTx, ParamStakeTxHash),
		api.StepVerifyStake: api.HandlerFunc(deps.verifyStake),
		api.StepMintBadge:   deps.submitter(ParamBadgeTx, ParamBadgeTxHash),

		api.StepVerifyRecovery: api.HandlerFunc(verifyRecovery),
		api.StepRevokeSessions: api.HandlerFunc(revokeSessions),
		api.StepRestoreKeys:    api.HandlerFunc(restoreKeys),

		api.StepMarkSuccess: api.HandlerFunc(markDone),
		api.StepMarkFailure: api.HandlerFunc(markDone),
	}
}
