// Package camera カメラデバイスの管理とキャプチャセッションを担う
//
// # 責務
// - カメラデバイスの自動検出と管理
// - カメラの動的な追加・削除機能
// - 要求設定とデバイス対応値の交渉、キャプチャの開始・停止
// - 取得したフレームの購読者への配信
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラデバイスを動的に管理したい
// - 要求した解像度に最も近い設定でキャプチャしたい
// - V4L2デバイスから画像をストリーミングしたい
//
// # 仕様
// - Camera Manager: 複数カメラの統合管理
// - Camera Discovery: V4L2デバイスの自動検出・実名取得
// - Session: 1台のデバイスを排他的に開き、交渉した設定で配信する
// - V4L2 Device: v4l2-ctlで対応値を列挙し、ffmpeg経由で画像を取得
// - Test Pattern Device: 実機なしで動作するJPEG生成デバイス
// - Broadcaster: 遅い購読者のフレームを破棄してキャプチャを止めない
//
// # 前提要件
//   - v4l-utils: カメラ名・対応フォーマットの取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//     Red Hat/Fedora: sudo dnf install v4l-utils
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//     Red Hat/Fedora: sudo dnf install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
