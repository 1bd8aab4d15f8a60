// Package negotiate カメラのキャプチャパラメータ（解像度・フレームレート）の交渉を担う
//
// # 責務
// - 要求された解像度に最も近い、デバイスがサポートする解像度の選択
// - 要求されたフレームレートに最も近い、デバイスがサポートするフレームレートの選択
// - 交渉イベント（要求・選択・フォールバック）のObserverへの通知
//
// # 仕様
//   - 解像度は常に横長（幅 >= 高さ）に正規化して比較する
//   - 解像度の選択順: 完全一致 → 20%以内の少し大きい解像度 → 要求以下で最大の解像度
//     （該当なしの場合はデバイスが最初に列挙した解像度）
//   - フレームレートは差の絶対値が最小のものを選ぶ（同値の場合は先に列挙された方）
//   - サポート一覧はデバイスの列挙順を保持し、入力を変更しない
//   - 全ての関数は副作用を持たず、複数のゴルーチンから同時に呼び出してよい
package negotiate
