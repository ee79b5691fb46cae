package syncbus

// Envelope type tags used by domain code. The core routes by tag only; the
// payload schema behind each tag belongs to the domain layer.
const (
	// TypeScoreUpdate carries a single hole score from the wearable.
	TypeScoreUpdate = "scoreUpdate"
	// TypeCourseData carries full course information to the wearable.
	TypeCourseData = "courseData"
	// TypeActiveRoundUpdate carries incremental round changes.
	TypeActiveRoundUpdate = "activeRoundUpdate"
	// TypeRequestCourseInfo asks the primary for course information.
	TypeRequestCourseInfo = "requestCourseInfo"
	// TypeRequestCurrentRound asks the primary for the round in progress.
	TypeRequestCurrentRound = "requestCurrentRound"
	// TypeShotLocation carries a recorded shot position. Usually sent on the
	// durable path; location samples tolerate delay but not loss.
	TypeShotLocation = "shot_location"
)
