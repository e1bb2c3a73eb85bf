// Package report aggregates attendance records into per-class reports and
// teacher dashboard statistics.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"rollcall/internal/attendance"
)

// Rate bands used to colour attendance rates.
const (
	BandDanger  = "danger"
	BandWarning = "warning"
	BandSuccess = "success"
)

// DashboardWindow is the look-back period of dashboard statistics.
const DashboardWindow = 30 * 24 * time.Hour

// RecentSessions is the number of sessions shown on the dashboard.
const RecentSessions = 5

// RateBand classifies a percentage rate.
func RateBand(rate float64) string {
	switch {
	case rate < 75:
		return BandDanger
	case rate < 90:
		return BandWarning
	default:
		return BandSuccess
	}
}

// RoundRate rounds a percentage to one decimal place.
func RoundRate(rate float64) float64 {
	return math.Round(rate*10) / 10
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return RoundRate(float64(part) / float64(whole) * 100)
}

// StudentStat is one student's line in a class report.
type StudentStat struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	StudentID     string  `json:"student_id"`
	PresentCount  int     `json:"present_count"`
	TotalSessions int     `json:"total_sessions"`
	Rate          float64 `json:"attendance_rate"`
	Band          string  `json:"band"`
}

// ClassReport summarises attendance of a class over a date range.
type ClassReport struct {
	ClassID     string                      `json:"class_id"`
	ClassName   string                      `json:"class_name"`
	From        string                      `json:"start_date,omitempty"`
	To          string                      `json:"end_date,omitempty"`
	Sessions    []attendance.SessionSummary `json:"sessions"`
	Students    []StudentStat               `json:"students"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// ClassStat is one class's line on the dashboard.
type ClassStat struct {
	ClassID       string  `json:"class_id"`
	ClassName     string  `json:"class_name"`
	StudentCount  int     `json:"student_count"`
	TotalSessions int     `json:"total_sessions"`
	Rate          float64 `json:"attendance_rate"`
	Band          string  `json:"band"`
}

// Dashboard holds a teacher's overview.
type Dashboard struct {
	Classes        []ClassStat                 `json:"classes"`
	RecentSessions []attendance.SessionSummary `json:"recent_sessions"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// Builder computes reports from the repository, optionally through a cache.
type Builder struct {
	repo  *attendance.Repository
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewBuilder creates a builder; cache may be nil.
func NewBuilder(repo *attendance.Repository, cache Cache, ttl time.Duration) *Builder {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Builder{repo: repo, cache: cache, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

var _ attendance.Invalidator = (*Builder)(nil)

func classKey(classID string) string       { return "rollcall:report:class:" + classID }
func dashboardKey(teacherID string) string { return "rollcall:report:dashboard:" + teacherID }

// ClassReport returns per-student attendance for class, sorted by rate
// descending. Only completed sessions count. Unbounded reports are cached.
func (b *Builder) ClassReport(ctx context.Context, class attendance.Class, from, to time.Time) (ClassReport, error) {
	cacheable := from.IsZero() && to.IsZero()
	if cacheable {
		var cached ClassReport
		if b.cached(ctx, classKey(class.ID), &cached) {
			return cached, nil
		}
	}

	rep, err := b.buildClassReport(ctx, class, from, to)
	if err != nil {
		return ClassReport{}, err
	}
	if cacheable {
		b.store(ctx, classKey(class.ID), rep)
	}
	return rep, nil
}

func (b *Builder) buildClassReport(ctx context.Context, class attendance.Class, from, to time.Time) (ClassReport, error) {
	sessions, err := b.repo.ListSessions(ctx, attendance.SessionFilter{ClassID: class.ID, From: from, To: to})
	if err != nil {
		return ClassReport{}, fmt.Errorf("list sessions: %w", err)
	}
	completed := sessions[:0]
	for _, s := range sessions {
		if s.Status == attendance.SessionCompleted {
			completed = append(completed, s)
		}
	}

	students, err := b.repo.ListStudents(ctx, class.ID)
	if err != nil {
		return ClassReport{}, fmt.Errorf("list students: %w", err)
	}
	rows, err := b.repo.ClassRecords(ctx, class.ID, from, to)
	if err != nil {
		return ClassReport{}, fmt.Errorf("class records: %w", err)
	}
	present := make(map[string]int, len(students))
	for _, r := range rows {
		if r.Status == attendance.StatusPresent {
			present[r.StudentID]++
		}
	}

	stats := make([]StudentStat, 0, len(students))
	for _, st := range students {
		rate := percent(present[st.ID], len(completed))
		stats = append(stats, StudentStat{
			ID:            st.ID,
			Name:          st.Name,
			StudentID:     st.StudentID,
			PresentCount:  present[st.ID],
			TotalSessions: len(completed),
			Rate:          rate,
			Band:          RateBand(rate),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Rate > stats[j].Rate })

	rep := ClassReport{
		ClassID:     class.ID,
		ClassName:   class.Name,
		Sessions:    completed,
		Students:    stats,
		GeneratedAt: b.now(),
	}
	if !from.IsZero() {
		rep.From = from.Format(time.DateOnly)
	}
	if !to.IsZero() {
		rep.To = to.Format(time.DateOnly)
	}
	return rep, nil
}

// Dashboard returns per-class statistics over the last 30 days and the
// teacher's most recent sessions.
func (b *Builder) Dashboard(ctx context.Context, teacherID string) (Dashboard, error) {
	var cached Dashboard
	if b.cached(ctx, dashboardKey(teacherID), &cached) {
		return cached, nil
	}

	classes, err := b.repo.ListClasses(ctx, teacherID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list classes: %w", err)
	}
	since := b.now().Add(-DashboardWindow)

	d := Dashboard{Classes: make([]ClassStat, 0, len(classes)), GeneratedAt: b.now()}
	for _, c := range classes {
		students, err := b.repo.CountStudents(ctx, c.ID)
		if err != nil {
			return Dashboard{}, fmt.Errorf("count students: %w", err)
		}
		sessions, err := b.repo.ListSessions(ctx, attendance.SessionFilter{ClassID: c.ID, From: since})
		if err != nil {
			return Dashboard{}, fmt.Errorf("list sessions: %w", err)
		}
		var total, present int
		for _, s := range sessions {
			if s.Status != attendance.SessionCompleted {
				continue
			}
			total++
			present += s.PresentCount
		}
		rate := percent(present, total*students)
		d.Classes = append(d.Classes, ClassStat{
			ClassID:       c.ID,
			ClassName:     c.Name,
			StudentCount:  students,
			TotalSessions: total,
			Rate:          rate,
			Band:          RateBand(rate),
		})
	}

	d.RecentSessions, err = b.repo.ListSessions(ctx, attendance.SessionFilter{TeacherID: teacherID, Limit: RecentSessions})
	if err != nil {
		return Dashboard{}, fmt.Errorf("recent sessions: %w", err)
	}
	b.store(ctx, dashboardKey(teacherID), d)
	return d, nil
}

// Refresh rebuilds the cached report of a class and drops its teacher's
// cached dashboard. It is driven by session.completed events.
func (b *Builder) Refresh(ctx context.Context, classID string) error {
	class, err := b.repo.GetClass(ctx, classID)
	if err != nil {
		return fmt.Errorf("load class: %w", err)
	}
	rep, err := b.buildClassReport(ctx, class, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	b.store(ctx, classKey(classID), rep)
	if b.cache != nil {
		if err := b.cache.Delete(ctx, dashboardKey(class.TeacherID)); err != nil {
			logrus.WithError(err).WithField("teacher_id", class.TeacherID).Warn("dashboard cache invalidation failed")
		}
	}
	return nil
}

// InvalidateClass drops the cached report of a class and its teacher's
// dashboard, so the next read reflects roster changes.
func (b *Builder) InvalidateClass(ctx context.Context, classID, teacherID string) {
	if b.cache == nil {
		return
	}
	for _, key := range []string{classKey(classID), dashboardKey(teacherID)} {
		if err := b.cache.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("report cache invalidation failed")
		}
	}
}

func (b *Builder) cached(ctx context.Context, key string, out any) bool {
	if b.cache == nil {
		return false
	}
	data, ok, err := b.cache.Get(ctx, key)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("report cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("report cache entry corrupt")
		return false
	}
	return true
}

func (b *Builder) store(ctx context.Context, key string, v any) {
	if b.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := b.cache.Set(ctx, key, data, b.ttl); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("report cache write failed")
	}
}
