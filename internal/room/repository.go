package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pointdeck/pointdeck/internal/models"
)

// Repository reads rooms and resolves membership against Postgres. Room and
// membership writes belong to the CRUD layer; the engine only consumes them.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, invite_code, creator_id, created_at
		FROM rooms
		WHERE id = $1
	`, id)

	var room models.Room
	err := row.Scan(&room.ID, &room.Name, &room.InviteCode, &room.CreatorID, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// ParticipantsOf returns the point-in-time participant set for a room:
// direct participants plus users reachable through room groups.
func (r *Repository) ParticipantsOf(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.name, COALESCE(rp.role, 'participant') AS role
		FROM users u
		LEFT JOIN room_participants rp ON u.id = rp.user_id AND rp.room_id = $1
		WHERE u.id IN (
			SELECT user_id FROM room_participants WHERE room_id = $1
			UNION
			SELECT gm.user_id
			FROM room_groups rg
			JOIN group_members gm ON rg.group_id = gm.group_id
			WHERE rg.room_id = $1
		)
		ORDER BY u.name ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Role); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	return participants, nil
}

// ResolveAccess reports whether the participant may operate in the room,
// directly or via group membership.
func (r *Repository) ResolveAccess(ctx context.Context, participantID, roomID uuid.UUID) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM room_participants WHERE room_id = $2 AND user_id = $1
			UNION
			SELECT 1
			FROM room_groups rg
			JOIN group_members gm ON rg.group_id = gm.group_id
			WHERE rg.room_id = $2 AND gm.user_id = $1
		)
	`, participantID, roomID)

	var allowed bool
	if err := row.Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to resolve room access: %w", err)
	}
	return allowed, nil
}

// ResolveRole returns the participant's role in the room. Room creators are
// treated as admins regardless of their participant row.
func (r *Repository) ResolveRole(ctx context.Context, participantID, roomID uuid.UUID) (models.Role, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT role FROM room_participants WHERE room_id = $2 AND user_id = $1), 'participant'),
			(SELECT creator_id = $1 FROM rooms WHERE id = $2)
	`, participantID, roomID)

	var role models.Role
	var isCreator sql.NullBool
	err := row.Scan(&role, &isCreator)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve role: %w", err)
	}
	if !isCreator.Valid {
		return "", fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	if isCreator.Bool {
		return models.RoleAdmin, nil
	}
	return role, nil
}
