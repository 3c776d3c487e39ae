package search

// indexMapping defines the single parent/child index. Vector fields use HNSW
// kNN; dimensions match the configured embedding models (1024 text, 512
// image).
const indexMapping = `{
  "settings": {
    "index": {
      "number_of_shards": 1,
      "number_of_replicas": 1,
      "knn": true,
      "knn.algo_param.ef_search": 100
    }
  },
  "mappings": {
    "properties": {
      "video_id": {"type": "keyword"},
      "title": {
        "type": "text",
        "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}
      },
      "description": {"type": "text"},
      "keywords": {"type": "keyword"},
      "source_url": {"type": "keyword"},
      "category_name": {"type": "keyword"},
      "upload_timestamp": {"type": "date"},
      "duration_seconds": {"type": "float"},
      "video_relation": {
        "type": "join",
        "relations": {"video": "content_chunk"}
      },
      "chunk_type": {"type": "keyword"},
      "start_seconds": {"type": "float"},
      "end_seconds": {"type": "float"},
      "text_content": {"type": "text"},
      "ocr_text": {"type": "text"},
      "text_embedding": {
        "type": "knn_vector",
        "dimension": 1024,
        "method": {
          "name": "hnsw",
          "space_type": "cosinesimil",
          "engine": "nmslib",
          "parameters": {"ef_construction": 128, "m": 24}
        }
      },
      "keyframe_path": {"type": "keyword"},
      "image_embedding": {
        "type": "knn_vector",
        "dimension": 512,
        "method": {
          "name": "hnsw",
          "space_type": "cosinesimil",
          "engine": "nmslib",
          "parameters": {"ef_construction": 128, "m": 24}
        }
      }
    }
  }
}`
