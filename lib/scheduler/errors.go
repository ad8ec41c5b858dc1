package scheduler

import cerrors "taskcoord/lib/errors"

var (
	errSchedulerProtocolBeforeRegister = cerrors.NewTagged(cerrors.ErrSchedulerFatal, "message received before Register")
	errSchedulerDuplicateRegister      = cerrors.NewTagged(cerrors.ErrSchedulerFatal, "duplicate Register")
)
