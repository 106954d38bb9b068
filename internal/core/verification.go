package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"BestdoriArchiver/internal/asset"
	"BestdoriArchiver/internal/catalog"
	"BestdoriArchiver/internal/config"
	"BestdoriArchiver/internal/network"
)

// VerificationResult は検証結果を表します。
type VerificationResult struct {
	TotalChecked  int
	TotalInvalid  int
	TotalRepaired int
	TotalFailed   int
	StaleTemps    int
	Details       []string
}

// RunVerification は、タスクの保存先にある既存ファイルを再検証し、repair が真なら破損ファイルを再取得します。
// 保存先の作成や書き込みに失敗した場合のみ error を返します。
func RunVerification(ctx context.Context, deps Deps, task config.Task, repair bool) (*VerificationResult, error) {
	logger := deps.Logger.With().Str("task", task.TaskName).Logger()
	logger.Info().Bool("repair", repair).Msg("検証モードを開始します")

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
	ranges, _, err := BuildRanges(task, cat)
	if err != nil {
		return nil, fmt.Errorf("タスク '%s' の走査範囲を決定できません: %w", task.TaskName, err)
	}

	result := &VerificationResult{}
	if _, err := os.Stat(saveRoot); os.IsNotExist(err) {
		logger.Warn().Str("path", saveRoot).Msg("保存先が存在しないため検証する対象がありません")
		return result, nil
	}

	// 中断されたダウンロードの一時ファイルを掃除する
	err = filepath.WalkDir(saveRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && strings.HasSuffix(d.Name(), ".part") {
			result.StaleTemps++
			if repair {
				if err := os.Remove(path); err != nil {
					return &FilesystemError{Path: path, Err: err}
				}
			}
			result.Details = append(result.Details, fmt.Sprintf("[一時ファイル] %s", path))
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	var resolver *Resolver
	var downloader *Downloader
	baseURL := ""
	if repair {
		client := deps.Client
		if client == nil {
			client, err = network.NewClient(deps.Config.Network)
			if err != nil {
				return result, fmt.Errorf("クライアントの初期化に失敗しました: %w", err)
			}
		}
		resolver = NewResolver(NewProber(client, logger))
		downloader = NewDownloader(client, logger, task.EffectiveSpeed(deps.Config.DownloadSpeed), DefaultRetryCount)
		baseURL = client.BaseURL()
	}

	paths := NewPathResolver(saveRoot, cat)
	for _, rng := range ranges {
		for id := rng.Start; id <= rng.End; id++ {
			if ctx.Err() != nil {
				logVerificationSummary(deps, task, result, repair)
				return result, nil
			}
			if err := verifyID(ctx, spec, paths, id, resolver, downloader, baseURL, result); err != nil {
				return result, err
			}
		}
	}

	logVerificationSummary(deps, task, result, repair)
	return result, nil
}

// verifyID は1つのIDの保存済みファイルを検証します。存在しないファイルは対象外です。
func verifyID(ctx context.Context, spec *asset.Spec, paths *PathResolver, id int, resolver *Resolver, downloader *Downloader, baseURL string, result *VerificationResult) error {
	checked := make(map[string]bool)
	for _, v := range spec.Variants {
		dest, err := paths.Resolve(spec, id, v)
		if err != nil {
			return nil
		}
		if checked[dest] {
			continue
		}

		data, err := os.ReadFile(dest)
		if err != nil {
			continue
		}
		checked[dest] = true
		result.TotalChecked++

		checkErr := spec.Check(data, "")
		if checkErr == nil {
			continue
		}
		result.TotalInvalid++
		result.Details = append(result.Details, fmt.Sprintf("[破損] %s: %v", dest, checkErr))

		if resolver == nil {
			continue
		}
		if err := os.Remove(dest); err != nil {
			return &FilesystemError{Path: dest, Err: err}
		}

		repaired := false
		for _, rv := range spec.Variants {
			if p, _ := paths.Resolve(spec, id, rv); p != dest {
				continue
			}
			server, ok := resolver.Resolve(ctx, spec, id, rv, "")
			if !ok {
				continue
			}
			outcome, err := downloader.Download(ctx, spec.URL(baseURL, server, id, rv), dest, spec)
			if err != nil {
				return err
			}
			if outcome.OK() {
				repaired = true
				break
			}
		}
		if repaired {
			result.TotalRepaired++
		} else {
			result.TotalFailed++
			result.Details = append(result.Details, fmt.Sprintf("[修復失敗] %s", dest))
		}
	}
	return nil
}

func logVerificationSummary(deps Deps, task config.Task, result *VerificationResult, repair bool) {
	logger := deps.Logger
	logger.Info().Msg("========================================")
	logger.Info().Msgf("検証完了: %s", task.TaskName)
	logger.Info().Msgf("チェック済みファイル数: %d", result.TotalChecked)
	logger.Info().Msgf("破損: %d", result.TotalInvalid)
	logger.Info().Msgf("一時ファイル: %d", result.StaleTemps)
	if repair {
		logger.Info().Msgf("修復成功: %d", result.TotalRepaired)
		logger.Info().Msgf("修復失敗: %d", result.TotalFailed)
	}
	if len(result.Details) > 0 {
		logger.Info().Msg("詳細:")
		for _, detail := range result.Details {
			logger.Info().Msg(detail)
		}
	}
	logger.Info().Msg("========================================")
}
