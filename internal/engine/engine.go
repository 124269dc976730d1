package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskboard/internal/automation"
	"taskboard/internal/broadcast"
	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// SystemActor is recorded as the actor of changes nobody asked for, such as
// the overdue sweep.
const SystemActor = "system"

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Auth       auth.Service
	Config     *config.Config
	Automation *automation.Processor
	Publisher  broadcast.Publisher
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.Logger = logger
	}
}

// WithPublisher sets where automation-triggered notices go.
func WithPublisher(pub broadcast.Publisher) Option {
	return func(e *Engine) {
		e.Publisher = pub
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.Now = now
	}
}

func New(db *sql.DB, cfg *config.Config, opts ...Option) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Auth:      auth.Service{DB: db},
		Config:    cfg,
		Publisher: broadcast.Nop{},
		Logger:    zerolog.Nop(),
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.Events = events.Writer{DB: db, Now: e.Now}
	e.Automation = automation.New(e.Repo,
		automation.WithLogger(e.Logger.With().Str("component", "automation").Logger()),
		automation.WithPublisher(e.Publisher),
		automation.WithJournal(e.Events),
		automation.WithClock(e.Now),
	)
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateUser registers a user. An empty ID gets a generated one.
func (e Engine) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return domain.User{}, errors.New("name is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	u.CreatedAt = e.timestamp()
	u.Badges = []string{}
	if err := e.Repo.InsertUser(ctx, nil, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// CreateAPIKey issues a key for userID. The plain key is only returned here;
// the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	ok, err := e.Repo.UserExists(ctx, nil, userID)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	if !ok {
		return domain.APIKey{}, "", fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
	}
	plain := "tbk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	return key, plain, nil
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	Statuses    []domain.ProjectStatus
}

// CreateProject creates a board owned by OwnerID. Without explicit statuses
// it starts with the configured default columns.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if opts.OwnerID == "" {
		return domain.Project{}, errors.New("owner is required")
	}
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = e.Config.DefaultStatuses()
	}
	statuses, err := normalizeStatuses(statuses)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.timestamp()
	p := domain.Project{
		ID:          opts.ID,
		Name:        strings.TrimSpace(opts.Name),
		Description: opts.Description,
		OwnerID:     opts.OwnerID,
		Statuses:    statuses,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.UserExists(ctx, tx, opts.OwnerID)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, fmt.Errorf("owner %s: %w", opts.OwnerID, repo.ErrNotFound)
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertMember(ctx, tx, domain.Member{ProjectID: p.ID, UserID: opts.OwnerID, Role: domain.RoleOwner, AddedAt: now}); err != nil {
		return domain.Project{}, fmt.Errorf("insert owner: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.OwnerID, events.EventPayload{"name": p.Name, "statuses": statusNames(p.Statuses)}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SetProjectStatuses replaces the board columns. A status still used by a
// task or targeted by a change-status rule cannot be removed.
func (e Engine) SetProjectStatuses(ctx context.Context, projectID string, statuses []domain.ProjectStatus, actorID string) (domain.Project, error) {
	statuses, err := normalizeStatuses(statuses)
	if err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, projectID, actorID, auth.PermManageProject); err != nil {
		return domain.Project{}, err
	}
	current, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	keep := map[string]bool{}
	for _, s := range statuses {
		keep[s.Name] = true
	}
	for _, s := range current.Statuses {
		if keep[s.Name] {
			continue
		}
		n, err := e.Repo.CountTasksInStatus(ctx, tx, projectID, s.Name)
		if err != nil {
			return domain.Project{}, err
		}
		if n > 0 {
			return domain.Project{}, fmt.Errorf("status %s is still used by %d task(s)", s.Name, n)
		}
	}
	rules, err := e.Repo.ListRulesTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	for _, rule := range rules {
		if a, ok := rule.Action.(domain.ChangeStatusAction); ok && !keep[a.Status] {
			return domain.Project{}, automation.ConfigError("status %s is targeted by automation %q", a.Status, rule.Name)
		}
	}
	if err := e.Repo.ReplaceStatuses(ctx, tx, projectID, statuses); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.TouchProject(ctx, tx, projectID, e.timestamp()); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectStatusesSet, projectID, "project", projectID, actorID, events.EventPayload{"statuses": statusNames(statuses)}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

// AddMember adds a user to the project or changes their role. The owner's
// role is fixed.
func (e Engine) AddMember(ctx context.Context, projectID, userID, role, actorID string) (domain.Member, error) {
	if role == "" {
		role = domain.RoleMember
	}
	if !auth.ValidRole(role) || role == domain.RoleOwner {
		return domain.Member{}, fmt.Errorf("invalid role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, projectID, actorID, auth.PermManageMembers); err != nil {
		return domain.Member{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Member{}, err
	}
	if userID == p.OwnerID {
		return domain.Member{}, errors.New("cannot change role of project owner")
	}
	ok, err := e.Repo.UserExists(ctx, tx, userID)
	if err != nil {
		return domain.Member{}, err
	}
	if !ok {
		return domain.Member{}, fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
	}
	previous, err := e.Repo.MemberRole(ctx, tx, projectID, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Member{}, err
	}
	now := e.timestamp()
	m := domain.Member{ProjectID: projectID, UserID: userID, Role: role, AddedAt: now}
	if err := e.Repo.UpsertMember(ctx, tx, m); err != nil {
		return domain.Member{}, err
	}
	title, msg := "Added to Project", fmt.Sprintf("You have been added to project %q", p.Name)
	if previous != "" {
		title, msg = "Project Role Updated", fmt.Sprintf("Your role in project %q has been changed to %s", p.Name, role)
	}
	if previous != role {
		if err := e.notify(ctx, tx, userID, actorID, domain.NotificationInfo, title, msg, "", projectID); err != nil {
			return domain.Member{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.MemberAdded, projectID, "member", userID, actorID, events.EventPayload{"role": role, "previous_role": previous}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	if previous == "" {
		return m, nil
	}
	members, err := e.Repo.ListMembers(ctx, projectID)
	if err != nil {
		return domain.Member{}, err
	}
	for _, existing := range members {
		if existing.UserID == userID {
			return existing, nil
		}
	}
	return m, nil
}

// RemoveMember drops a non-owner member from the project.
func (e Engine) RemoveMember(ctx context.Context, projectID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, projectID, actorID, auth.PermManageMembers); err != nil {
		return err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if userID == p.OwnerID {
		return errors.New("cannot remove project owner")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	if err := e.notify(ctx, tx, userID, actorID, domain.NotificationWarning, "Project Membership Removed",
		fmt.Sprintf("You have been removed from project %q", p.Name), "", projectID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.MemberRemoved, projectID, "member", userID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectForActor returns the project when actorID is a member of it.
func (e Engine) ProjectForActor(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	if err := e.Auth.Require(ctx, nil, projectID, actorID, auth.PermReadProject); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) notify(ctx context.Context, tx *sql.Tx, recipient, actorID, typ, title, message, taskID, projectID string) error {
	n := domain.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipient,
		Type:        typ,
		Title:       title,
		Message:     message,
		TaskID:      optionalString(taskID),
		ProjectID:   optionalString(projectID),
		CreatedBy:   actorID,
		CreatedAt:   e.timestamp(),
	}
	if err := e.Repo.InsertNotification(ctx, tx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func normalizeStatuses(in []domain.ProjectStatus) ([]domain.ProjectStatus, error) {
	if len(in) == 0 {
		return nil, errors.New("at least one status is required")
	}
	seen := map[string]bool{}
	out := make([]domain.ProjectStatus, 0, len(in))
	for i, s := range in {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("status %d has empty name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate status %s", name)
		}
		seen[name] = true
		color := s.Color
		if color == "" {
			color = "#6B778C"
		}
		out = append(out, domain.ProjectStatus{Name: name, Color: color, Order: i})
	}
	return out, nil
}

func statusNames(statuses []domain.ProjectStatus) []string {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, s.Name)
	}
	return names
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
