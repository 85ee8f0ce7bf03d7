package dfu

// States of the update session.
const (
	StateWaitForHashData       = "WaitForHashData"
	StateWaitForFlashData      = "WaitForFlashData"
	StateWaitForFlashUpdateCmd = "WaitForFlashUpdateCmd"
	StateWaitForCheckHashCmd   = "WaitForCheckHashCmd"
	// StateJumpToApp is terminal: control has been handed to the new image.
	StateJumpToApp = "JumpToApp"
	// StateWaiting is reserved for re-arming an idle session. No transition
	// leads into it.
	StateWaiting = "Waiting"
)

// Events driving the session FSM.
const (
	evHashReceived    = "hash_received"
	evSectorFull      = "sector_full"
	evSectorCommitted = "sector_committed"
	evImageWritten    = "image_written"
	evVerified        = "verified"
)
