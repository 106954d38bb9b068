package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"BestdoriArchiver/internal/asset"
	"BestdoriArchiver/internal/catalog"
	"BestdoriArchiver/internal/config"
	"BestdoriArchiver/internal/model"
	"BestdoriArchiver/internal/network"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNoRanges は、タスクの指定から走査すべきID範囲が1つも得られなかったことを表します。
var ErrNoRanges = errors.New("走査対象のID範囲がありません")

// SuccessfulIDsFile は、取得に成功したIDの一覧を書き出すファイル名です。
const SuccessfulIDsFile = "successful_ids.txt"

// ResumeFunc は、保存済みの実行状態から再開するかどうかを決定します。
type ResumeFunc func(saved *RunState) bool

// Deps は、タスク実行に必要な共有コンポーネントです。
type Deps struct {
	Config  *config.Config
	Catalog *catalog.Catalog // nil なら埋め込みの既定リスト
	Logger  zerolog.Logger
	Client  *network.Client // nil なら Config.Network から生成
	Resume  ResumeFunc      // nil なら一致する保存状態から常に再開
}

// RangeOutcome は、1つの走査範囲の結果です。
type RangeOutcome struct {
	Range  Range
	Result model.ScanResult
	Err    error
}

// TaskResult は、1タスクの実行結果です。
type TaskResult struct {
	RunID        string
	TaskName     string
	AssetKind    string
	Label        string
	SaveRoot     string
	End          model.ScanEnd
	Stats        model.DownloadStats
	Ranges       []RangeOutcome
	Errors       []error
	BytesWritten int64
	Resumed      bool
}

// ExecuteTask は、単一のタスクの全ライフサイクルを管理・実行します。
// キャラクターごとの範囲は task.MaxConcurrentCharacters を上限に並行して走査され、
// 各ワーカーは自身の ScanState と DownloadStats を持ち、終了後に結合されます。
// ctx がキャンセルされた場合は処理中のIDを終えてから停止し、再開用の状態を保存します。
func ExecuteTask(ctx context.Context, deps Deps, task config.Task, progress ProgressFunc) (*TaskResult, error) {
	saveRoot, err := task.ResolveSaveRoot(deps.Config.GlobalSaveRootDirectory)
	if err != nil {
		return nil, fmt.Errorf("タスク '%s' の保存先を決定できません: %w", task.TaskName, err)
	}

	spec, err := asset.GetSpec(task.AssetKind)
	if err != nil {
		return nil, fmt.Errorf("タスク '%s' のアセット種別が不正です: %w", task.TaskName, err)
	}
	spec.Apply(task)

	cat := deps.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	logger := deps.Logger.With().Str("task", task.TaskName).Logger()

	ranges, unknown, err := BuildRanges(task, cat)
	for _, name := range unknown {
		logger.Warn().Str("character", name).Msg("不明なキャラクター名を無視します")
	}
	if err != nil {
		return nil, fmt.Errorf("タスク '%s' の走査範囲を決定できません: %w", task.TaskName, err)
	}

	client := deps.Client
	if client == nil {
		client, err = network.NewClient(deps.Config.Network)
		if err != nil {
			return nil, fmt.Errorf("ネットワーククライアントの初期化に失敗しました (task=%s): %w", task.TaskName, err)
		}
	}

	statePath := StatePathForTask(deps.Config.StateFilePath, task.TaskName)
	startID, endID := ranges[0].Start, ranges[0].End
	for _, r := range ranges[1:] {
		startID = min(startID, r.Start)
		endID = max(endID, r.End)
	}

	var saved *RunState
	if task.EnableResumeSupport {
		saved = loadResumable(statePath, task, startID, endID, deps.Resume, logger)
	}

	result := &TaskResult{
		RunID:     uuid.NewString(),
		TaskName:  task.TaskName,
		AssetKind: task.AssetKind,
		Label:     spec.Label,
		SaveRoot:  saveRoot,
	}
	if saved != nil {
		result.RunID = saved.RunID
		result.Resumed = true
		result.Stats = saved.Stats
	}
	logger = logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().
		Str("kind", task.AssetKind).
		Int("start_id", startID).
		Int("end_id", endID).
		Int("ranges", len(ranges)).
		Bool("resumed", result.Resumed).
		Msg("タスクを開始します")

	client.Warmup(ctx, deps.Config.Network.WarmupURLs, logger)

	speed := task.EffectiveSpeed(deps.Config.DownloadSpeed)
	retryCount := DefaultRetryCount
	if task.RetryCount != nil {
		retryCount = *task.RetryCount
	}
	paths := NewPathResolver(saveRoot, cat)

	outcomes := make([]RangeOutcome, len(ranges))
	states := make([]*model.ScanState, len(ranges))
	workerStats := make([]model.DownloadStats, len(ranges))
	written := make([]int64, len(ranges))

	var g errgroup.Group
	g.SetLimit(max(task.MaxConcurrentCharacters, 1))

	for i, rng := range ranges {
		state := NewScanState(spec, rng.Start)
		if cp, ok := saved.Checkpoint(rng.Key); ok {
			if cp.Done {
				logger.Info().Str("character", rng.Label).Msg("前回の実行で完了済みの範囲をスキップします")
				outcomes[i] = RangeOutcome{Range: rng, Result: cp.Result}
				states[i] = &cp.Scan
				continue
			}
			scan := cp.Scan
			state = &scan
		}
		states[i] = state

		g.Go(func() error {
			wlogger := logger.With().Str("character", rng.Label).Logger()
			downloader := NewDownloader(client, wlogger, speed, retryCount)
			scanner := NewScanner(spec, NewResolver(NewProber(client, wlogger)), downloader, paths, client.BaseURL(), wlogger)

			res, err := scanner.ScanRange(ctx, rng, state, &workerStats[i], progress)
			outcomes[i] = RangeOutcome{Range: rng, Result: res, Err: err}
			written[i] = downloader.BytesWritten
			if err != nil {
				wlogger.Error().Err(err).Msg("このキャラクターの走査に失敗しました。次のキャラクターへ進みます。")
				return fmt.Errorf("%s: %w", rng.Label, err)
			}
			wlogger.Info().Str("result", res.String()).Int("processed", res.Processed).Msg("範囲の走査が終了しました")
			return nil
		})
	}
	// エラーで他の範囲は止まらない
	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Msg("走査に失敗した範囲があります")
	}

	for i := range ranges {
		result.Stats.Merge(workerStats[i])
		result.BytesWritten += written[i]
		if outcomes[i].Err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", ranges[i].Label, outcomes[i].Err))
		}
	}
	result.Ranges = outcomes
	result.End = overallEnd(outcomes)

	if len(result.Stats.Successful) > 0 {
		idsPath := filepath.Join(saveRoot, SuccessfulIDsFile)
		if err := WriteSuccessfulIDs(idsPath, result.Stats.Successful, cat); err != nil {
			logger.Warn().Err(err).Msg("成功ID一覧の保存に失敗しました")
		}
	}

	if task.EnableResumeSupport {
		if result.End == model.ScanCancelled {
			runState := &RunState{
				RunID:     result.RunID,
				TaskName:  task.TaskName,
				AssetKind: task.AssetKind,
				StartID:   startID,
				EndID:     endID,
				LastID:    endID + 1,
				Stats:     result.Stats,
			}
			for i, rng := range ranges {
				done := outcomes[i].Result.End != model.ScanCancelled && outcomes[i].Err == nil
				runState.Ranges = append(runState.Ranges, RangeCheckpoint{
					Key:     rng.Key,
					StartID: rng.Start,
					EndID:   rng.End,
					Scan:    *states[i],
					Done:    done,
					Result:  outcomes[i].Result,
				})
				if !done {
					runState.LastID = min(runState.LastID, states[i].CurrentID)
				}
			}
			if err := SaveRunState(statePath, runState); err != nil {
				logger.Error().Err(err).Msg("実行状態の保存に失敗しました")
			} else {
				logger.Info().Str("path", statePath).Int("last_id", runState.LastID).Msg("実行状態を保存しました。次回の起動時に再開できます。")
			}
		} else if err := RemoveRunState(statePath); err != nil {
			logger.Warn().Err(err).Msg("実行状態ファイルの削除に失敗しました")
		}
	}

	logger.Info().
		Str("end", result.End.String()).
		Int("complete", result.Stats.Complete).
		Int("partial", result.Stats.Partial).
		Int("failed", result.Stats.Failed).
		Int("skipped", result.Stats.Skipped).
		Int("nonexistent", len(result.Stats.Nonexistent)).
		Msg("タスクを終了します")
	return result, nil
}

// BuildRanges は、タスクの指定から走査範囲を組み立てます。
// characters が指定されていればそのキャラクターのID範囲を、start_id が指定されていれば
// その範囲を（両方なら共通部分を）、どちらもなければ全キャラクターの範囲を返します。
func BuildRanges(task config.Task, cat *catalog.Catalog) ([]Range, []string, error) {
	start, end, bounded := task.IDBounds()

	var entries []catalog.Entry
	var unknown []string
	switch {
	case len(task.Characters) > 0:
		entries, unknown = cat.ResolveNicknames(task.Characters)
	case bounded:
		return []Range{{
			Key:   fmt.Sprintf("%d-%d", start, end),
			Label: fmt.Sprintf("ID %d-%d", start, end),
			Start: start,
			End:   end,
		}}, nil, nil
	default:
		entries = cat.Characters()
	}

	var ranges []Range
	for _, e := range entries {
		r := Range{
			Key:   strings.ToLower(e.Character.Nickname),
			Label: rangeLabel(e),
			Start: e.Character.IDRange.Start,
			End:   e.Character.IDRange.End,
		}
		if bounded {
			r.Start = max(r.Start, start)
			r.End = min(r.End, end)
		}
		if r.Start > r.End {
			continue
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return nil, unknown, ErrNoRanges
	}
	return ranges, unknown, nil
}

// loadResumable は、再開に使える保存状態を返します。
// 同じタスクで種別や範囲が異なる状態と、再開しないと決定された状態は削除されます。
// 別のタスクの状態には触れません。
func loadResumable(path string, task config.Task, start, end int, resume ResumeFunc, logger zerolog.Logger) *RunState {
	saved, err := LoadRunState(path)
	if err != nil {
		logger.Warn().Err(err).Msg("実行状態を読み込めないため最初から実行します")
		return nil
	}
	if saved == nil {
		return nil
	}
	if saved.TaskName != task.TaskName {
		logger.Warn().Str("path", path).Str("saved_task", saved.TaskName).Msg("別のタスクの保存状態のため再開に使いません")
		return nil
	}
	if !saved.Matches(task.TaskName, task.AssetKind, start, end) {
		logger.Info().
			Str("saved_task", saved.TaskName).
			Int("saved_start_id", saved.StartID).
			Int("saved_end_id", saved.EndID).
			Msg("範囲が一致しない保存状態を破棄します")
		if err := RemoveRunState(path); err != nil {
			logger.Warn().Err(err).Send()
		}
		return nil
	}
	if resume != nil && !resume(saved) {
		logger.Info().Msg("保存状態を破棄して最初から実行します")
		if err := RemoveRunState(path); err != nil {
			logger.Warn().Err(err).Send()
		}
		return nil
	}
	logger.Info().Int("last_id", saved.LastID).Time("saved_at", saved.SavedAt).Msg("保存状態から再開します")
	return saved
}

// overallEnd は、範囲ごとの終了状態からタスク全体の終了状態を決定します。
// 1つでも中断された範囲があれば Cancelled、早期終了があれば StoppedEarly です。
func overallEnd(outcomes []RangeOutcome) model.ScanEnd {
	end := model.ScanExhausted
	for _, o := range outcomes {
		switch o.Result.End {
		case model.ScanCancelled:
			return model.ScanCancelled
		case model.ScanStoppedEarly:
			end = model.ScanStoppedEarly
		}
	}
	return end
}
