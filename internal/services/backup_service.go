package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

const (
	BackupFormatVersion = 1

	DefaultBackupMaxBytes = 256 << 20
)

type backupService struct {
	repo      repositories.Repository
	keys      crypto.KeyProvider
	access    AccessControlService
	locks     *LockManager
	publisher events.EventPublisher
	logger    *slog.Logger
	maxBytes  int64

	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewBackupService builds the backup engine. Blobs use deterministic CBOR
// so the same state always encodes to the same payload.
func NewBackupService(repo repositories.Repository, keys crypto.KeyProvider, access AccessControlService, locks *LockManager, publisher events.EventPublisher, logger *slog.Logger, maxBytes int64) (BackupService, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultBackupMaxBytes
	}

	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encMode, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor encoder: %w", err)
	}

	decMode, err := cbor.DecOptions{
		MaxArrayElements:  1 << 26,
		MaxMapPairs:       1 << 26,
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor decoder: %w", err)
	}

	return &backupService{
		repo:      repo,
		keys:      keys,
		access:    access,
		locks:     locks,
		publisher: publisher,
		logger:    logger,
		maxBytes:  maxBytes,
		encMode:   encMode,
		decMode:   decMode,
	}, nil
}

// Backup snapshots the selected groups with their articles, links and
// memberships. Article rows are copied as stored, still encrypted.
func (s *backupService) Backup(ctx context.Context, actor *models.User, groupFilter []models.GroupID) ([]byte, error) {
	groupFilter = models.GroupIDSet(groupFilter)
	s.logger.Info("Creating backup", "actor_id", actorID(actor), "groups", groupIDStrings(groupFilter))

	if err := requireRole(actor, "backup", "create", models.RoleInstructor, models.RoleAdmin); err != nil {
		return nil, err
	}

	fingerprint, err := crypto.KeyFingerprint(s.keys)
	if err != nil {
		logFailure(s.logger, "Failed to fingerprint key", err)
		return nil, err
	}

	unlock := s.locks.LockExclusive()
	data, err := s.collect(ctx, actor, groupFilter)
	unlock()
	if err != nil {
		logFailure(s.logger, "Failed to collect backup data", err)
		return nil, err
	}

	payload, err := s.encMode.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup payload: %w", err)
	}
	sum := sha256.Sum256(payload)

	blob, err := s.encMode.Marshal(&models.BackupEnvelope{
		Version:        BackupFormatVersion,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      actor.ID,
		GroupFilter:    groupFilter,
		KeyFingerprint: fingerprint,
		Checksum:       sum[:],
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup envelope: %w", err)
	}

	publishEvent(ctx, s.publisher, s.logger, events.BackupCreated, actor, map[string]interface{}{
		"groups":      len(data.Groups),
		"articles":    len(data.Articles),
		"links":       len(data.Links),
		"memberships": len(data.Memberships),
	})
	s.logger.Info("Backup created successfully", "articles", len(data.Articles), "groups", len(data.Groups), "bytes", len(blob))
	return blob, nil
}

// Restore applies a blob in merge or replace mode. The blob is decoded and
// validated in full before the first write, and all writes share one
// transaction.
func (s *backupService) Restore(ctx context.Context, actor *models.User, blob []byte, mode models.RestoreMode) (*models.RestoreReport, error) {
	s.logger.Info("Restoring backup", "actor_id", actorID(actor), "mode", mode, "bytes", len(blob))

	if err := requireRole(actor, "backup", "restore", models.RoleAdmin); err != nil {
		return nil, err
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("unknown restore mode %q", mode)
	}

	_, data, err := s.Inspect(blob)
	if err != nil {
		logFailure(s.logger, "Rejected backup", err)
		return nil, err
	}

	unlock := s.locks.LockExclusive()
	defer unlock()

	report := &models.RestoreReport{Mode: mode}
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		if mode == models.RestoreReplace {
			err = s.replace(ctx, tx, data, report)
		} else {
			err = s.merge(ctx, tx, data, report)
		}
		if err != nil {
			return err
		}

		if err := s.checkRestoredAdmins(ctx, tx, data.Groups); err != nil {
			return err
		}
		if err := s.repo.Group().SyncIDSequence(ctx, tx); err != nil {
			return persistenceError("sync group ids", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to restore backup", err, "mode", mode)
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.BackupRestored, actor, map[string]interface{}{
		"mode":              string(mode),
		"groups_inserted":   report.GroupsInserted,
		"groups_updated":    report.GroupsUpdated,
		"articles_inserted": report.ArticlesInserted,
		"articles_skipped":  report.ArticlesSkipped,
	})
	s.logger.Info("Backup restored successfully",
		"mode", mode,
		"groups_inserted", report.GroupsInserted,
		"groups_updated", report.GroupsUpdated,
		"articles_inserted", report.ArticlesInserted,
		"articles_skipped", report.ArticlesSkipped,
		"links", report.LinksApplied,
		"memberships", report.MembershipsApplied)
	return report, nil
}

// BackupToFile writes the blob readable by the owner only. The file is
// renamed into place so a failed write never leaves a truncated backup.
func (s *backupService) BackupToFile(ctx context.Context, actor *models.User, groupFilter []models.GroupID, path string) error {
	blob, err := s.Backup(ctx, actor, groupFilter)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set backup file mode: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close backup file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move backup file into place: %w", err)
	}
	return nil
}

func (s *backupService) RestoreFromFile(ctx context.Context, actor *models.User, path string, mode models.RestoreMode) (*models.RestoreReport, error) {
	blob, err := s.readBackupFile(path)
	if err != nil {
		return nil, err
	}
	return s.Restore(ctx, actor, blob, mode)
}

func (s *backupService) InspectFile(path string) (*models.BackupEnvelope, *models.BackupData, error) {
	blob, err := s.readBackupFile(path)
	if err != nil {
		return nil, nil, err
	}
	return s.Inspect(blob)
}

// readBackupFile refuses files over the size cap before reading them
func (s *backupService) readBackupFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	if info.Size() > s.maxBytes {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrMalformedBackup, info.Size(), s.maxBytes)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	return blob, nil
}

// Inspect decodes the envelope and payload and checks version, checksum,
// key fingerprint and the internal consistency of the data.
func (s *backupService) Inspect(blob []byte) (*models.BackupEnvelope, *models.BackupData, error) {
	if len(blob) == 0 {
		return nil, nil, fmt.Errorf("%w: empty blob", ErrMalformedBackup)
	}
	if int64(len(blob)) > s.maxBytes {
		return nil, nil, fmt.Errorf("%w: blob is %d bytes, limit is %d", ErrMalformedBackup, len(blob), s.maxBytes)
	}

	var envelope models.BackupEnvelope
	if err := s.decMode.Unmarshal(blob, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: envelope: %v", ErrMalformedBackup, err)
	}
	if envelope.Version != BackupFormatVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedBackup, envelope.Version)
	}
	sum := sha256.Sum256(envelope.Payload)
	if !bytes.Equal(sum[:], envelope.Checksum) {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrMalformedBackup)
	}

	fingerprint, err := crypto.KeyFingerprint(s.keys)
	if err != nil {
		return nil, nil, err
	}
	if !crypto.FingerprintsEqual(fingerprint, envelope.KeyFingerprint) {
		return nil, nil, ErrBackupKeyMismatch
	}

	var data models.BackupData
	if err := s.decMode.Unmarshal(envelope.Payload, &data); err != nil {
		return nil, nil, fmt.Errorf("%w: payload: %v", ErrMalformedBackup, err)
	}
	normalizeBackup(&data)
	if err := validateBackup(&data); err != nil {
		return nil, nil, err
	}
	return &envelope, &data, nil
}

// ===== COLLECTION =====

func (s *backupService) collect(ctx context.Context, actor *models.User, groupFilter []models.GroupID) (*models.BackupData, error) {
	var (
		groups []*models.ArticleGroup
		rows   []*models.EncryptedArticle
		err    error
	)

	switch {
	case len(groupFilter) > 0:
		groups, rows, err = s.collectFiltered(ctx, actor, groupFilter)
	case actor.IsPlatformAdmin():
		groups, err = s.repo.Group().List(ctx, nil, nil)
		if err == nil {
			rows, err = s.repo.Article().List(ctx, nil)
		}
	default:
		groups, rows, err = s.collectVisible(ctx, actor)
	}
	if err != nil {
		return nil, err
	}

	selected := make([]models.GroupID, len(groups))
	for i, g := range groups {
		selected[i] = g.ID
	}
	inSet := make(map[models.ArticleID]bool, len(rows))
	for _, r := range rows {
		inSet[r.ID] = true
	}

	data := &models.BackupData{
		Articles: make([]models.EncryptedArticle, 0, len(rows)),
		Groups:   make([]models.ArticleGroup, 0, len(groups)),
	}
	for _, r := range rows {
		data.Articles = append(data.Articles, *r)
	}
	for _, g := range groups {
		data.Groups = append(data.Groups, *g)
	}
	if len(selected) == 0 {
		normalizeBackup(data)
		return data, nil
	}

	links, err := s.repo.Article().LinksForGroups(ctx, nil, selected)
	if err != nil {
		return nil, persistenceError("list links", err)
	}
	for _, l := range links {
		if inSet[l.ArticleID] {
			data.Links = append(data.Links, l)
		}
	}

	data.Memberships, err = s.repo.Membership().ListByGroups(ctx, nil, selected)
	if err != nil {
		return nil, persistenceError("list memberships", err)
	}

	normalizeBackup(data)
	return data, nil
}

func (s *backupService) collectFiltered(ctx context.Context, actor *models.User, groupFilter []models.GroupID) ([]*models.ArticleGroup, []*models.EncryptedArticle, error) {
	groups, err := s.repo.Group().List(ctx, nil, groupFilter)
	if err != nil {
		return nil, nil, persistenceError("list groups", err)
	}
	if len(groups) != len(groupFilter) {
		found := make(map[models.GroupID]bool, len(groups))
		for _, g := range groups {
			found[g.ID] = true
		}
		for _, id := range groupFilter {
			if !found[id] {
				return nil, nil, fmt.Errorf("group %s: %w", id, ErrGroupNotFound)
			}
		}
	}

	if !actor.IsPlatformAdmin() {
		vis, err := s.access.Visibility(ctx, nil, actor)
		if err != nil {
			return nil, nil, err
		}
		for _, g := range groups {
			if g.Protected && !vis.IsMember(g.ID) {
				return nil, nil, NewPermissionError(actor.ID, g.ID, "group", "back up", "not a member of the protected group")
			}
		}
	}

	ids, err := s.repo.Article().ArticleIDsForGroups(ctx, nil, groupFilter)
	if err != nil {
		return nil, nil, persistenceError("list group articles", err)
	}
	rows, err := s.repo.Article().GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, nil, persistenceError("load articles", err)
	}
	return groups, rows, nil
}

// collectVisible selects the unprotected groups, the protected groups actor
// belongs to, and the articles visible through them.
func (s *backupService) collectVisible(ctx context.Context, actor *models.User) ([]*models.ArticleGroup, []*models.EncryptedArticle, error) {
	vis, err := s.access.Visibility(ctx, nil, actor)
	if err != nil {
		return nil, nil, err
	}

	all, err := s.repo.Group().List(ctx, nil, nil)
	if err != nil {
		return nil, nil, persistenceError("list groups", err)
	}
	groups := make([]*models.ArticleGroup, 0, len(all))
	for _, g := range all {
		if !g.Protected || vis.IsMember(g.ID) {
			groups = append(groups, g)
		}
	}

	rows, err := s.repo.Article().List(ctx, nil)
	if err != nil {
		return nil, nil, persistenceError("list articles", err)
	}
	ids := make([]models.ArticleID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	links, err := s.repo.Article().GroupsForArticles(ctx, nil, ids)
	if err != nil {
		return nil, nil, persistenceError("load article links", err)
	}

	visible := make([]*models.EncryptedArticle, 0, len(rows))
	for _, r := range rows {
		if vis.Visible(links[r.ID]) {
			visible = append(visible, r)
		}
	}
	return groups, visible, nil
}

// ===== APPLY =====

func (s *backupService) replace(ctx context.Context, tx *gorm.DB, data *models.BackupData, report *models.RestoreReport) error {
	if err := s.repo.Article().DeleteAllLinks(ctx, tx); err != nil {
		return persistenceError("wipe links", err)
	}
	if err := s.repo.Membership().DeleteAll(ctx, tx); err != nil {
		return persistenceError("wipe memberships", err)
	}
	if err := s.repo.Article().DeleteAll(ctx, tx); err != nil {
		return persistenceError("wipe articles", err)
	}
	if err := s.repo.Group().DeleteAll(ctx, tx); err != nil {
		return persistenceError("wipe groups", err)
	}

	for i := range data.Groups {
		if err := s.repo.Group().Create(ctx, tx, &data.Groups[i]); err != nil {
			return persistenceError("insert group", err)
		}
		report.GroupsInserted++
	}
	for i := range data.Articles {
		if err := s.repo.Article().Create(ctx, tx, &data.Articles[i]); err != nil {
			return persistenceError("insert article", err)
		}
		report.ArticlesInserted++
	}
	for i := range data.Links {
		if err := s.repo.Article().InsertLink(ctx, tx, &data.Links[i]); err != nil {
			return persistenceError("insert link", err)
		}
		report.LinksApplied++
	}
	for i := range data.Memberships {
		if err := s.repo.Membership().Add(ctx, tx, &data.Memberships[i]); err != nil {
			return persistenceError("insert membership", err)
		}
		report.MembershipsApplied++
	}
	return nil
}

// merge upserts groups, keeps existing article rows untouched and lets the
// blob win for memberships and links.
func (s *backupService) merge(ctx context.Context, tx *gorm.DB, data *models.BackupData, report *models.RestoreReport) error {
	for i := range data.Groups {
		g := &data.Groups[i]
		exists, err := s.repo.Group().Exists(ctx, tx, g.ID)
		if err != nil {
			return persistenceError("check group", err)
		}
		if exists {
			if err := s.repo.Group().Update(ctx, tx, g); err != nil {
				return persistenceError("update group", err)
			}
			report.GroupsUpdated++
			continue
		}
		if err := s.repo.Group().Create(ctx, tx, g); err != nil {
			return persistenceError("insert group", err)
		}
		report.GroupsInserted++
	}

	for i := range data.Articles {
		a := &data.Articles[i]
		exists, err := s.repo.Article().Exists(ctx, tx, a.ID)
		if err != nil {
			return persistenceError("check article", err)
		}
		if exists {
			report.ArticlesSkipped++
			continue
		}
		if err := s.repo.Article().Create(ctx, tx, a); err != nil {
			return persistenceError("insert article", err)
		}
		report.ArticlesInserted++
	}

	for i := range data.Links {
		l := &data.Links[i]
		if err := s.repo.Article().DeleteLink(ctx, tx, l.GroupID, l.ArticleID); err != nil {
			return persistenceError("delete link", err)
		}
		if err := s.repo.Article().InsertLink(ctx, tx, l); err != nil {
			return persistenceError("insert link", err)
		}
		report.LinksApplied++
	}

	for i := range data.Memberships {
		m := &data.Memberships[i]
		if err := s.repo.Membership().Remove(ctx, tx, m.GroupID, m.UserID); err != nil && !repositories.IsNotFoundError(err) {
			return persistenceError("delete membership", err)
		}
		if err := s.repo.Membership().Add(ctx, tx, m); err != nil {
			return persistenceError("insert membership", err)
		}
		report.MembershipsApplied++
	}
	return nil
}

// checkRestoredAdmins rolls the restore back if it leaves a protected group
// with members but no admin.
func (s *backupService) checkRestoredAdmins(ctx context.Context, tx *gorm.DB, groups []models.ArticleGroup) error {
	for _, g := range groups {
		if !g.Protected {
			continue
		}
		members, err := s.repo.Membership().ListByGroup(ctx, tx, g.ID)
		if err != nil {
			return persistenceError("list members", err)
		}
		if len(members) > 0 && models.AdminCount(members) == 0 {
			return &LastAdminViolation{GroupID: g.ID}
		}
	}
	return nil
}

// ===== VALIDATION =====

func normalizeBackup(data *models.BackupData) {
	if data.Articles == nil {
		data.Articles = []models.EncryptedArticle{}
	}
	if data.Groups == nil {
		data.Groups = []models.ArticleGroup{}
	}
	if data.Memberships == nil {
		data.Memberships = []models.GroupMembership{}
	}
	if data.Links == nil {
		data.Links = []models.GroupArticleLink{}
	}

	sort.Slice(data.Articles, func(i, j int) bool { return data.Articles[i].ID < data.Articles[j].ID })
	sort.Slice(data.Groups, func(i, j int) bool { return data.Groups[i].ID < data.Groups[j].ID })
	sort.Slice(data.Memberships, func(i, j int) bool {
		a, b := data.Memberships[i], data.Memberships[j]
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.UserID < b.UserID
	})
	sort.Slice(data.Links, func(i, j int) bool {
		a, b := data.Links[i], data.Links[j]
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.ArticleID < b.ArticleID
	})
}

func validateBackup(data *models.BackupData) error {
	groups := make(map[models.GroupID]bool, len(data.Groups))
	for _, g := range data.Groups {
		if g.ID <= 0 {
			return fmt.Errorf("%w: group id %d is not positive", ErrMalformedBackup, g.ID)
		}
		if groups[g.ID] {
			return fmt.Errorf("%w: duplicate group %s", ErrMalformedBackup, g.ID)
		}
		if g.Name == "" {
			return fmt.Errorf("%w: group %s has no name", ErrMalformedBackup, g.ID)
		}
		groups[g.ID] = true
	}

	articles := make(map[models.ArticleID]bool, len(data.Articles))
	for _, a := range data.Articles {
		if id, err := models.ParseArticleID(a.ID.String()); err != nil || id != a.ID {
			return fmt.Errorf("%w: article id %q", ErrMalformedBackup, a.ID)
		}
		if articles[a.ID] {
			return fmt.Errorf("%w: duplicate article %s", ErrMalformedBackup, a.ID)
		}
		if _, err := crypto.DecodeIV(a.IV); err != nil {
			return fmt.Errorf("%w: article %s: %v", ErrMalformedBackup, a.ID, err)
		}
		articles[a.ID] = true
	}

	memberships := make(map[models.GroupMembership]bool, len(data.Memberships))
	for _, m := range data.Memberships {
		if !groups[m.GroupID] {
			return fmt.Errorf("%w: membership references unknown group %s", ErrMalformedBackup, m.GroupID)
		}
		if m.UserID == "" {
			return fmt.Errorf("%w: membership of group %s has no user", ErrMalformedBackup, m.GroupID)
		}
		key := models.GroupMembership{GroupID: m.GroupID, UserID: m.UserID}
		if memberships[key] {
			return fmt.Errorf("%w: duplicate membership %s/%s", ErrMalformedBackup, m.GroupID, m.UserID)
		}
		memberships[key] = true
	}

	links := make(map[models.GroupArticleLink]bool, len(data.Links))
	for _, l := range data.Links {
		if !groups[l.GroupID] {
			return fmt.Errorf("%w: link references unknown group %s", ErrMalformedBackup, l.GroupID)
		}
		if !articles[l.ArticleID] {
			return fmt.Errorf("%w: link references unknown article %s", ErrMalformedBackup, l.ArticleID)
		}
		if links[l] {
			return fmt.Errorf("%w: duplicate link %s/%s", ErrMalformedBackup, l.GroupID, l.ArticleID)
		}
		links[l] = true
	}
	return nil
}
