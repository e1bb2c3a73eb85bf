package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rollcall/internal/face"
	"rollcall/internal/objectstore"
	"rollcall/internal/queue"
)

// Warnings attached to a completed session.
const (
	WarnNoStudents   = "no students registered"
	WarnNoFaces      = "no faces detected"
	WarnNoneDetected = "no students recognized"
)

// Publisher announces committed sessions.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Observer receives the outcome of every attendance run.
type Observer interface {
	SessionFinished(status string, elapsed time.Duration, present, absent int)
}

// Workflow turns a classroom photo into a completed attendance session.
type Workflow struct {
	repo      *Repository
	store     objectstore.Store
	detector  face.Detector
	matcher   face.Matcher
	tolerance float64

	publisher    Publisher
	observer     Observer
	recordFailed bool
	now          func() time.Time
}

// WorkflowOption customises a Workflow.
type WorkflowOption func(*Workflow)

// WithTolerance sets the match threshold; values <= 0 keep the default.
func WithTolerance(t float64) WorkflowOption {
	return func(w *Workflow) {
		if t > 0 {
			w.tolerance = t
		}
	}
}

// WithPublisher sends session.completed events after commit.
func WithPublisher(p Publisher) WorkflowOption {
	return func(w *Workflow) { w.publisher = p }
}

// WithObserver reports run outcomes, typically to metrics.
func WithObserver(o Observer) WorkflowOption {
	return func(w *Workflow) { w.observer = o }
}

// WithFailedSessions keeps a bare failed session row after an internal error.
func WithFailedSessions(enabled bool) WorkflowOption {
	return func(w *Workflow) { w.recordFailed = enabled }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow wires the collaborators of TakeAttendance.
func NewWorkflow(repo *Repository, store objectstore.Store, detector face.Detector, matcher face.Matcher, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		repo:      repo,
		store:     store,
		detector:  detector,
		matcher:   matcher,
		tolerance: face.DefaultTolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TakeAttendance records one session for classID from a classroom photo.
// Either the session and one record per enrolled student are committed
// together, or nothing is. Upload failures return ErrUploadFailed; any
// later failure returns ErrInternal and is logged in detail.
func (w *Workflow) TakeAttendance(ctx context.Context, classID string, image []byte, filename string) (SessionResult, error) {
	started := w.now()
	if classID == "" {
		return SessionResult{}, fmt.Errorf("%w: class id required", ErrValidation)
	}
	if len(image) == 0 {
		return SessionResult{}, fmt.Errorf("%w: no photo provided", ErrValidation)
	}
	if _, err := w.repo.GetClass(ctx, classID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return SessionResult{}, ErrInvalidClass
		}
		logrus.WithError(err).WithField("class_id", classID).Error("load class failed")
		return SessionResult{}, ErrInternal
	}

	log := logrus.WithFields(logrus.Fields{"class_id": classID})
	var (
		result   SessionResult
		imageKey string
		present  int
		absent   int
	)

	err := w.repo.InTx(ctx, func(tx *Repository) error {
		sess, err := tx.InsertSession(ctx, Session{
			ID:          uuid.NewString(),
			ClassID:     classID,
			SessionDate: dateOf(started),
			StartTime:   started,
			Status:      SessionProcessing,
		})
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		result.SessionID = sess.ID
		log = log.WithField("session_id", sess.ID)

		key := objectstore.ClassroomPhotoKey(sess.ID, started)
		if err := w.store.Put(ctx, key, image, objectstore.ContentType(filename)); err != nil {
			log.WithError(err).Warn("classroom photo upload failed")
			return ErrUploadFailed
		}
		imageKey = key

		students, err := tx.ListStudents(ctx, classID)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}

		if len(students) == 0 {
			result.Warning = WarnNoStudents
		} else {
			faces, err := w.detector.Detect(ctx, image)
			if err != nil {
				return fmt.Errorf("detect faces: %w", err)
			}
			result.FacesDetected = len(faces)
			if len(faces) == 0 {
				// Still one absent record per enrolled student below.
				result.Warning = WarnNoFaces
			}
			candidates := face.Encodings(faces)

			for _, st := range students {
				rec := Record{SessionID: sess.ID, StudentID: st.ID, Status: StatusAbsent, RecordedAt: w.now()}
				if st.HasEncoding() {
					if ok, conf := w.matcher.Match(st.Encoding, candidates, w.tolerance); ok {
						rec.Status = StatusPresent
						rec.Confidence = conf
					}
				}
				if _, err := tx.InsertRecord(ctx, rec); err != nil {
					return fmt.Errorf("insert record for %s: %w", st.ID, err)
				}
				if rec.Status == StatusPresent {
					present++
					result.PresentStudentNames = append(result.PresentStudentNames, st.Name)
				} else {
					absent++
				}
			}
			if present == 0 && result.Warning == "" {
				result.Warning = WarnNoneDetected
			}
		}

		if err := tx.FinishSession(ctx, sess.ID, SessionCompleted, w.now(), key); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		result.Status = SessionCompleted
		result.RecordCount = len(students)
		return nil
	})
	elapsed := w.now().Sub(started)

	if err != nil {
		if imageKey != "" {
			w.discardImage(imageKey, log)
		}
		if errors.Is(err, ErrUploadFailed) {
			w.observe(SessionFailed, elapsed, 0, 0)
			return SessionResult{}, ErrUploadFailed
		}
		log.WithError(err).Error("attendance processing failed")
		w.observe(SessionFailed, elapsed, 0, 0)
		if w.recordFailed {
			w.saveFailedSession(classID, result.SessionID, started, log)
		}
		return SessionResult{}, ErrInternal
	}

	if result.PresentStudentNames == nil {
		result.PresentStudentNames = []string{}
	}
	w.observe(SessionCompleted, elapsed, present, absent)
	w.publish(ctx, queue.SessionCompleted{
		SessionID:   result.SessionID,
		ClassID:     classID,
		SessionDate: dateOf(started).Format(time.DateOnly),
		Present:     present,
		Absent:      absent,
		CompletedAt: w.now(),
	}, log)

	log.WithFields(logrus.Fields{"present": present, "absent": absent, "faces": result.FacesDetected}).
		Info("attendance session completed")
	return result, nil
}

// discardImage removes an uploaded photo whose session was rolled back.
func (w *Workflow) discardImage(key string, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := w.store.Delete(ctx, key); err != nil {
		log.WithError(err).WithField("key", key).Warn("could not delete orphaned classroom photo")
	}
}

func (w *Workflow) saveFailedSession(classID, sessionID string, started time.Time, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	end := w.now()
	_, err := w.repo.InsertSession(ctx, Session{
		ID:          sessionID,
		ClassID:     classID,
		SessionDate: dateOf(started),
		StartTime:   started,
		EndTime:     &end,
		Status:      SessionFailed,
	})
	if err != nil {
		log.WithError(err).Warn("could not record failed session")
	}
}

func (w *Workflow) observe(status string, elapsed time.Duration, present, absent int) {
	if w.observer != nil {
		w.observer.SessionFinished(status, elapsed, present, absent)
	}
}

func (w *Workflow) publish(ctx context.Context, evt queue.SessionCompleted, log *logrus.Entry) {
	if w.publisher == nil {
		return
	}
	msg, err := queue.NewSessionCompleted(evt)
	if err == nil {
		err = w.publisher.Publish(ctx, msg)
	}
	if err != nil {
		log.WithError(err).Warn("publish session event failed")
	}
}
