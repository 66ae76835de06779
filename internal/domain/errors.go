package domain

import "errors"

var (
	// ErrExamNotFound indicates a stale or forged exam reference.
	ErrExamNotFound = errors.New("exam not found")
	// ErrAlreadyStarted is returned when starting an exam that has left CREATED.
	ErrAlreadyStarted = errors.New("exam already started or ended")
	// ErrExamNotStarted is returned for commands that require a running exam.
	ErrExamNotStarted = errors.New("exam not started")
	// ErrInvalidIndex indicates a push for an index outside the question list.
	ErrInvalidIndex = errors.New("invalid question index")
	// ErrAlreadyPushed rejects re-pushing or out-of-order pushing a question;
	// accepted indices are strictly increasing.
	ErrAlreadyPushed = errors.New("question already pushed")
	// ErrSessionNotFound means the instructor token is missing or wrong.
	ErrSessionNotFound = errors.New("instructor session not found")
	// ErrStudentNotFound means no student matches the given session id.
	ErrStudentNotFound = errors.New("student not found")
	// ErrQuestionNotFound indicates a submitted question id is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a selected option id is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrWrongQuestion rejects answers for anything but the live question.
	ErrWrongQuestion = errors.New("only the current question can be answered")
	// ErrTimeExpired rejects answers submitted after the window closed.
	ErrTimeExpired = errors.New("answer window expired")
	// ErrAnswerAlreadyExists enforces one answer per (student, question).
	ErrAnswerAlreadyExists = errors.New("answer already exists")
	// ErrInvalidSelection rejects empty or malformed selections.
	ErrInvalidSelection = errors.New("invalid selection for question type")
	// ErrAccessCodeTaken is surfaced by the store's uniqueness constraint.
	ErrAccessCodeTaken = errors.New("access code already in use")
)
