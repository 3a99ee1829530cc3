// Package ingest turns uploaded submission batches into canonical queues and
// submissions and persists them.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"autograder/internal/model"
	"autograder/internal/schemas"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SchemaValidationError reports the first structural violation in a batch.
type SchemaValidationError struct {
	Path    string
	Message string
}

func (e *SchemaValidationError) Error() string {
	if e.Path == "" {
		return "schema validation: " + e.Message
	}
	return fmt.Sprintf("schema validation at %s: %s", e.Path, e.Message)
}

// Normalizer canonicalizes raw batches. Disambiguator is called exactly once
// per ParseAndNormalize call and its value is appended to every natural id in
// the batch.
type Normalizer struct {
	Disambiguator func() string
	Now           func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{Disambiguator: defaultDisambiguator, Now: time.Now}
}

func defaultDisambiguator() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ParseAndNormalize parses and validates with a default Normalizer.
func ParseAndNormalize(raw []byte) ([]model.Queue, []model.Submission, error) {
	return NewNormalizer().ParseAndNormalize(raw)
}

// ParseAndNormalize validates the whole batch before producing anything, so a
// single bad submission or answer rejects the batch.
func (n *Normalizer) ParseAndNormalize(raw []byte) ([]model.Queue, []model.Submission, error) {
	batch, err := decodeBatch(raw)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]int, len(batch))
	for i := range batch {
		if err := validateSubmission(i, &batch[i]); err != nil {
			return nil, nil, err
		}
		if first, dup := seen[batch[i].ID]; dup {
			return nil, nil, &SchemaValidationError{
				Path:    fmt.Sprintf("[%d].id", i),
				Message: fmt.Sprintf("duplicate submission id %q, first seen at [%d]", batch[i].ID, first),
			}
		}
		seen[batch[i].ID] = i
	}
	if len(batch) == 0 {
		return []model.Queue{}, []model.Submission{}, nil
	}

	suffix := n.Disambiguator()
	now := n.Now().UTC()

	queues := make([]model.Queue, 0)
	queueIdx := make(map[string]int)
	subs := make([]model.Submission, 0, len(batch))
	for _, rs := range batch {
		qid := disambiguate(rs.QueueID, suffix)
		i, ok := queueIdx[qid]
		if !ok {
			i = len(queues)
			queueIdx[qid] = i
			queues = append(queues, model.Queue{
				ID:        qid,
				Name:      rs.QueueID,
				CreatedAt: now,
			})
		}
		queues[i].SubmissionCount++
		subs = append(subs, toSubmission(rs, qid, suffix))
	}
	for i := range queues {
		queues[i].Description = fmt.Sprintf("Imported %d submission(s)", queues[i].SubmissionCount)
	}
	return queues, subs, nil
}

func disambiguate(id, suffix string) string { return id + "_" + suffix }

func decodeBatch(raw []byte) ([]schemas.RawSubmission, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &SchemaValidationError{Path: "$", Message: "expected a JSON array of submissions"}
	}
	var batch []schemas.RawSubmission
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &SchemaValidationError{
				Path:    "$." + typeErr.Field,
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}
		}
		return nil, &SchemaValidationError{Path: "$", Message: err.Error()}
	}
	return batch, nil
}

func validateSubmission(i int, rs *schemas.RawSubmission) error {
	prefix := fmt.Sprintf("[%d]", i)
	if err := validate.Struct(rs); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &SchemaValidationError{Path: prefix + fieldPath(fe.Namespace()), Message: fieldMessage(fe)}
		}
		return &SchemaValidationError{Path: prefix, Message: err.Error()}
	}
	for _, qid := range slices.Sorted(maps.Keys(rs.Answers)) {
		if toAnswer(rs.Answers[qid]).Empty() {
			return &SchemaValidationError{
				Path:    prefix + ".answers." + qid,
				Message: "answer must have a non-empty choice, reasoning, text or choices",
			}
		}
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i:]
	}
	return ""
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gte":
		return "must be >= " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

// toAnswer treats absent and empty-string fields alike.
func toAnswer(a schemas.RawAnswer) model.Answer {
	return model.Answer{
		Choice:    deref(a.Choice),
		Reasoning: deref(a.Reasoning),
		Text:      deref(a.Text),
		Choices:   append([]string(nil), a.Choices...),
	}
}

func toSubmission(rs schemas.RawSubmission, queueID, suffix string) model.Submission {
	s := model.Submission{
		ID:             disambiguate(rs.ID, suffix),
		QueueID:        queueID,
		LabelingTaskID: rs.LabelingTaskID,
		CreatedAt:      time.UnixMilli(rs.CreatedAt).UTC(),
		Questions:      make([]model.Question, 0, len(rs.Questions)),
		Answers:        make(map[string]model.Answer, len(rs.Answers)),
	}
	for _, q := range rs.Questions {
		s.Questions = append(s.Questions, model.Question{
			ID:           q.Data.ID,
			Rev:          q.Rev,
			QuestionType: model.QuestionType(q.Data.QuestionType),
			QuestionText: q.Data.QuestionText,
		})
	}
	for qid, a := range rs.Answers {
		s.Answers[qid] = toAnswer(a)
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
