package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	builderrors "github.com/narvanalabs/mydra/internal/builder/errors"
	"github.com/narvanalabs/mydra/internal/models"
)

// drvPathsExpr maps every attribute path in attrsJSON to its derivation path
// in collection, or to null when the attribute is missing, broken or
// otherwise refuses to evaluate.
const drvPathsExpr = `{ collection, attrsJSON }:
let
  pkgs = import collection { };
  lib = pkgs.lib;
  drvPath = name:
    let
      pkg = lib.attrByPath (lib.splitString "." name) null pkgs;
      maybe = builtins.tryEval (if pkg == null then null else pkg.drvPath);
    in if maybe.success then maybe.value else null;
in lib.genAttrs (builtins.fromJSON attrsJSON) drvPath
`

// Evaluator evaluates a Nix function expression applied to string arguments
// and decodes its JSON value into out.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, args map[string]string, out any) error
}

// Instantiator writes the derivations of attributes to the store.
type Instantiator interface {
	Instantiate(ctx context.Context, collection string, attrs []models.Attribute) error
}

// Resolver translates attributes into build units.
type Resolver struct {
	evaluator    Evaluator
	instantiator Instantiator
	logger       *slog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(e Evaluator, i Instantiator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		evaluator:    e,
		instantiator: i,
		logger:       logger,
	}
}

// Resolve evaluates attrs against the package collection at collection and
// instantiates the derivations of those that evaluate. Attributes that are
// missing, broken or fail to evaluate are dropped. When several attributes
// share a derivation, the first one in attrs names it.
//
// A failed instantiation is fatal.
func (r *Resolver) Resolve(ctx context.Context, attrs []models.Attribute, collection string) (models.WorkingSet, error) {
	attrs = dedupeAttributes(attrs)
	ws := make(models.WorkingSet)
	if len(attrs) == 0 {
		return ws, nil
	}

	paths, err := r.evaluate(ctx, collection, attrs)
	if err != nil {
		if builderrors.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("batch evaluation failed, evaluating attributes one by one",
			"attrs", len(attrs),
			"error", err,
		)
		paths, err = r.evaluateEach(ctx, collection, attrs)
		if err != nil {
			return nil, err
		}
	}

	var surviving []models.Attribute
	for _, a := range attrs {
		p := paths[a]
		if p == nil {
			r.logger.Debug("dropping attribute that does not evaluate", "attr", a)
			continue
		}
		if !ws.Add(models.BuildUnit(*p)) {
			r.logger.Debug("attribute shares a derivation with an earlier one",
				"attr", a,
				"unit", *p,
				"kept", ws[models.BuildUnit(*p)],
			)
			continue
		}
		ws[models.BuildUnit(*p)] = a
		surviving = append(surviving, a)
	}

	if err := r.instantiator.Instantiate(ctx, collection, surviving); err != nil {
		if builderrors.IsBuildError(err) {
			return nil, err
		}
		return nil, builderrors.NewInstantiateError(err, "")
	}

	r.logger.Info("resolved attributes",
		"requested", len(attrs),
		"units", len(ws),
	)
	return ws, nil
}

// evaluate resolves attrs in one evaluation.
func (r *Resolver) evaluate(ctx context.Context, collection string, attrs []models.Attribute) (map[models.Attribute]*string, error) {
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}

	out := make(map[models.Attribute]*string, len(attrs))
	err = r.evaluator.Evaluate(ctx, drvPathsExpr, map[string]string{
		"collection": collection,
		"attrsJSON":  string(attrsJSON),
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// evaluateEach resolves attrs one at a time so that an attribute that aborts
// evaluation only loses itself.
func (r *Resolver) evaluateEach(ctx context.Context, collection string, attrs []models.Attribute) (map[models.Attribute]*string, error) {
	out := make(map[models.Attribute]*string, len(attrs))
	for _, a := range attrs {
		single, err := r.evaluate(ctx, collection, []models.Attribute{a})
		if err != nil {
			if builderrors.IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			r.logger.Debug("attribute failed to evaluate", "attr", a, "error", err)
			continue
		}
		out[a] = single[a]
	}
	return out, nil
}

func dedupeAttributes(attrs []models.Attribute) []models.Attribute {
	seen := make(map[models.Attribute]bool, len(attrs))
	out := make([]models.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
