package core

import (
	"context"
	"errors"

	"BestdoriArchiver/internal/asset"
	"BestdoriArchiver/internal/model"

	"github.com/rs/zerolog"
)

// Range は、1キャラクター分（または明示指定）の走査範囲です。
type Range struct {
	Key   string
	Label string
	Start int
	End   int
}

// Total は範囲内のID数です。
func (r Range) Total() int { return r.End - r.Start + 1 }

// Progress は、各IDの処理後に進捗シンクへ渡される情報です。
type Progress struct {
	RangeKey  string              `json:"range_key"`
	Label     string              `json:"label"`
	CurrentID int                 `json:"current_id"`
	Processed int                 `json:"processed"`
	Total     int                 `json:"total"`
	Stats     model.DownloadStats `json:"stats"`
}

// ProgressFunc は進捗シンクです。並行実行時は複数のゴルーチンから呼ばれます。
type ProgressFunc func(Progress)

// Scanner は、ID範囲を昇順に走査し、連続ミス数に基づいて早期終了を判断します。
// 1つの Scanner は1ワーカー専用です。
type Scanner struct {
	spec       *asset.Spec
	resolver   *Resolver
	downloader *Downloader
	paths      *PathResolver
	baseURL    string
	logger     zerolog.Logger
}

// NewScanner は Scanner を生成します。
func NewScanner(spec *asset.Spec, resolver *Resolver, downloader *Downloader, paths *PathResolver, baseURL string, logger zerolog.Logger) *Scanner {
	return &Scanner{
		spec:       spec,
		resolver:   resolver,
		downloader: downloader,
		paths:      paths,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// NewScanState は、spec の閾値で初期化された走査状態を返します。
func NewScanState(spec *asset.Spec, start int) *model.ScanState {
	return &model.ScanState{
		CurrentID:             start,
		EmptyMissThreshold:    spec.EmptyMissThreshold,
		TrailingMissThreshold: spec.TrailingMissThreshold,
	}
}

// ScanRange は rng を state.CurrentID から走査します。
// ctx のキャンセルはID間でのみ確認され、処理中のリクエストは中断されません。
// キャンセル時の state.CurrentID は次に処理すべきIDを指すため、そのまま再開に使えます。
// error はファイルシステムの失敗など、このキャラクターの走査を続けられない場合のみ返されます。
func (s *Scanner) ScanRange(ctx context.Context, rng Range, state *model.ScanState, stats *model.DownloadStats, progress ProgressFunc) (model.ScanResult, error) {
	if state.CurrentID < rng.Start {
		state.CurrentID = rng.Start
	}
	workCtx := context.WithoutCancel(ctx)
	total := rng.Total()
	processed := state.CurrentID - rng.Start
	logger := s.logger.With().Str("range", rng.Label).Logger()

	emit := func(id int) {
		if progress != nil {
			progress(Progress{RangeKey: rng.Key, Label: rng.Label, CurrentID: id, Processed: processed, Total: total, Stats: stats.Clone()})
		}
	}

	for id := state.CurrentID; id <= rng.End; id++ {
		if ctx.Err() != nil {
			state.CurrentID = id
			logger.Info().Int("next_id", id).Msg("停止要求を受信したため走査を中断します")
			return model.ScanResult{End: model.ScanCancelled, LastID: id - 1, Processed: processed}, nil
		}
		state.CurrentID = id

		found, err := s.processID(workCtx, id, stats)
		if errors.Is(err, ErrUnmappedID) {
			logger.Warn().Int("id", id).Msg("キャラクターに対応しないIDのためスキップします")
			processed++
			emit(id)
			continue
		}
		if err != nil {
			// CurrentID は失敗したIDのまま残し、再開時に再試行する
			processed++
			emit(id)
			logger.Error().Err(err).Int("id", id).Msg("このキャラクターの走査を中止します")
			return model.ScanResult{End: model.ScanStoppedEarly, Reason: err.Error(), LastID: id - 1, Processed: processed}, err
		}
		processed++

		if found {
			state.ConsecutiveMiss = 0
			state.FoundAny = true
			emit(id)
			continue
		}

		state.ConsecutiveMiss++
		stats.Nonexistent = append(stats.Nonexistent, id)
		emit(id)

		reason := ""
		switch {
		case !state.FoundAny && state.ConsecutiveMiss >= state.EmptyMissThreshold:
			reason = model.ReasonNoAssets
		case state.FoundAny && state.ConsecutiveMiss >= state.TrailingMissThreshold:
			reason = model.ReasonExhausted
		}
		if reason != "" {
			state.CurrentID = id + 1
			logger.Info().Int("last_id", id).Int("consecutive_miss", state.ConsecutiveMiss).Msgf("早期終了: %s", reason)
			return model.ScanResult{End: model.ScanStoppedEarly, Reason: reason, LastID: id, Processed: processed}, nil
		}
	}

	state.CurrentID = rng.End + 1
	return model.ScanResult{End: model.ScanExhausted, LastID: rng.End, Processed: processed}, nil
}

// processID は1つのIDの全バリアントを解決・取得し、集計を更新します。
// いずれかのバリアントが存在すれば true を返します。
func (s *Scanner) processID(ctx context.Context, id int, stats *model.DownloadStats) (bool, error) {
	if _, err := s.paths.Lookup(id); err != nil {
		return false, err
	}

	preferred := ""
	found, present := 0, 0
	for _, v := range s.spec.Variants {
		server, ok := s.resolver.Resolve(ctx, s.spec, id, v, preferred)
		if !ok {
			continue
		}
		found++
		preferred = server

		dest, err := s.paths.Resolve(s.spec, id, v)
		if err != nil {
			return true, err
		}
		outcome, err := s.downloader.Download(ctx, s.spec.URL(s.baseURL, server, id, v), dest, s.spec)
		if err != nil {
			return true, err
		}
		if outcome == OutcomeSkipped {
			stats.Skipped++
		}
		if outcome.OK() {
			present++
			stats.RecordVariant(v.Name)
			if s.spec.Selection == asset.FirstVariant {
				break
			}
		}
	}

	if found == 0 {
		return false, nil
	}

	expected := len(s.spec.Variants)
	if s.spec.Selection == asset.FirstVariant {
		expected = 1
	}
	switch {
	case present >= expected:
		stats.Complete++
	case present > 0:
		stats.Partial++
	default:
		stats.Failed++
	}
	if present > 0 {
		stats.Successful = append(stats.Successful, id)
	}
	return true, nil
}
