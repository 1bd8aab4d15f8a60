// Package server は、HTTPサーバーとWebSocket通信を管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// カメラ操作APIと映像配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - カメラの一覧・開始・停止と設定交渉のAPI
//   - MJPEGとWebSocketによるフレーム配信
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - WebSocketはgorilla/websocketを使用
//   - エラーはErrorResponse形式のJSONで返す
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
